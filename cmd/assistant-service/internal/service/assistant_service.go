package service

import (
	"context"
	"errors"
	"fmt"

	"chainassistant/cmd/assistant-service/internal/biz"
	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
)

// AssistantService 对外服务门面，HTTP 层只与它交互
type AssistantService struct {
	turns    *biz.TurnUsecase
	contexts *biz.ContextCacheUsecase
	failsafe *biz.FailsafeResolver
	store    cache.Store
	log      *log.Helper
}

// NewAssistantService 创建服务门面
func NewAssistantService(
	turns *biz.TurnUsecase,
	contexts *biz.ContextCacheUsecase,
	failsafe *biz.FailsafeResolver,
	store cache.Store,
	logger log.Logger,
) *AssistantService {
	return &AssistantService{
		turns:    turns,
		contexts: contexts,
		failsafe: failsafe,
		store:    store,
		log:      log.NewHelper(log.With(logger, "module", "service")),
	}
}

// Chat 处理一轮会话
func (s *AssistantService) Chat(ctx context.Context, req *biz.TurnRequest) (*biz.TurnResult, error) {
	return s.turns.ProcessTurn(ctx, req)
}

// InitializeContextRequest 上下文初始化请求
type InitializeContextRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	PersonalityID  string `json:"personality_id"`
	Message        string `json:"message"`
}

// InitializeContext 显式创建会话上下文
func (s *AssistantService) InitializeContext(ctx context.Context, req *InitializeContextRequest) (*domain.ConversationContext, error) {
	return s.contexts.Initialize(ctx, req.ConversationID, req.UserID, req.PersonalityID, req.Message)
}

// GetContext 读取会话上下文
func (s *AssistantService) GetContext(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	return s.contexts.Get(ctx, conversationID)
}

// ClearContext 删除会话上下文
func (s *AssistantService) ClearContext(ctx context.Context, conversationID string) error {
	return s.contexts.Clear(ctx, conversationID)
}

// IsNotFound 判断是否为上下文不存在错误
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrContextNotFound)
}

// CacheStats 缓存运行时统计
type CacheStats struct {
	Contexts    int    `json:"contexts"`
	ToolResults int    `json:"tool_results"`
	Memories    int    `json:"memories"`
	Entries     int64  `json:"entries"`
	MemoryBytes int64  `json:"memory_bytes"`
	Backend     string `json:"backend"`
}

// GetCacheStats 按键前缀统计缓存规模
func (s *AssistantService) GetCacheStats(ctx context.Context) (*CacheStats, error) {
	stats := &CacheStats{}
	switch s.store.(type) {
	case *cache.RedisStore:
		stats.Backend = "redis"
	case *cache.MemoryStore:
		stats.Backend = "memory"
	default:
		stats.Backend = "disabled"
	}
	if s.store.Enabled() {
		if ss, err := s.store.Stats(ctx); err == nil && ss != nil {
			stats.Entries = ss.Entries
			stats.MemoryBytes = ss.MemoryBytes
		}
	}

	count := func(prefix string) int {
		keys, err := s.store.KeysWithPrefix(ctx, prefix)
		if err != nil {
			return 0
		}
		return len(keys)
	}
	stats.Contexts = count("conv:")
	stats.ToolResults = count("tool:")
	stats.Memories = count("mem:")
	return stats, nil
}

// FlushCaches 清空快速查找存储
func (s *AssistantService) FlushCaches(ctx context.Context) error {
	s.log.WithContext(ctx).Warn("flushing all cached state")
	return s.store.FlushAll(ctx)
}

// GetFailsafeStats 降级缓存统计
func (s *AssistantService) GetFailsafeStats() biz.FailsafeStats {
	return s.failsafe.Stats()
}

// ClearFailsafeCache 清空降级应答缓存
func (s *AssistantService) ClearFailsafeCache() {
	s.failsafe.Clear()
}

// TestFallbackRequest 降级链路演练请求
type TestFallbackRequest struct {
	Query string `json:"query" binding:"required"`
	Error string `json:"error"`
}

// TestFallback 演练降级链路：对给定查询模拟一次主链路失败
func (s *AssistantService) TestFallback(req *TestFallbackRequest) *domain.FailsafeResponse {
	cause := errors.New("simulated failure")
	if req.Error != "" {
		cause = fmt.Errorf("simulated failure: %s", req.Error)
	}
	return s.failsafe.Resolve(req.Query, cause)
}

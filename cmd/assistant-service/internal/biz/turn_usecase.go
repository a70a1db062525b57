package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/uuid"
)

// maxToolCallsPerTurn 单轮允许执行的模型工具调用上限
const maxToolCallsPerTurn = 5

// TurnRequest 一轮会话请求
type TurnRequest struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	PersonalityID  string `json:"personality_id,omitempty"`
	Message        string `json:"message"`
}

// TurnResult 一轮会话结果
type TurnResult struct {
	Response        string                 `json:"response"`
	Intent          domain.Intent          `json:"intent"`
	FallbackLevel   domain.FallbackLevel   `json:"fallback_level"`
	Confidence      float64                `json:"confidence,omitempty"`
	ToolsUsed       []string               `json:"tools_used,omitempty"`
	EstimatedTokens int                    `json:"estimated_tokens"`
	Store           *domain.TriStoreResult `json:"store,omitempty"`
}

// TurnUsecase 单轮会话编排
// 主链路：上下文装配 → 生成 → 工具执行 → 终稿；任一环节失败都落到降级应答器，
// 调用方永远拿到一个响应
type TurnUsecase struct {
	contexts *ContextCacheUsecase
	tools    *ToolResultCache
	tristore *TriStoreWriter
	failsafe *FailsafeResolver
	llm      domain.LLMClient
	invoker  domain.ToolInvoker
	events   domain.EventPublisher

	log *log.Helper
	now func() time.Time
}

// NewTurnUsecase 创建会话编排器
func NewTurnUsecase(
	contexts *ContextCacheUsecase,
	tools *ToolResultCache,
	tristore *TriStoreWriter,
	failsafe *FailsafeResolver,
	llm domain.LLMClient,
	invoker domain.ToolInvoker,
	events domain.EventPublisher,
	logger log.Logger,
) *TurnUsecase {
	return &TurnUsecase{
		contexts: contexts,
		tools:    tools,
		tristore: tristore,
		failsafe: failsafe,
		llm:      llm,
		invoker:  invoker,
		events:   events,
		log:      log.NewHelper(log.With(logger, "module", "biz/turn")),
		now:      time.Now,
	}
}

// ProcessTurn 处理一轮用户消息
func (uc *TurnUsecase) ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if req.ConversationID == "" || req.Message == "" {
		return nil, fmt.Errorf("conversation_id and message are required")
	}
	start := uc.now()

	// 上下文不存在时按冷启动建立
	record, err := uc.contexts.Get(ctx, req.ConversationID)
	if errors.Is(err, domain.ErrContextNotFound) {
		record, err = uc.contexts.Initialize(ctx, req.ConversationID, req.UserID, req.PersonalityID, req.Message)
	}
	if err != nil {
		return nil, err
	}
	if req.UserID == "" {
		req.UserID = record.UserID
	}

	if err := uc.contexts.RecordNewQuery(ctx, req.ConversationID, req.Message); err != nil && !errors.Is(err, domain.ErrContextNotFound) {
		uc.log.WithContext(ctx).Warnf("record query failed: %v", err)
	}

	optimized, err := uc.contexts.BuildOptimizedContext(ctx, req.ConversationID)
	if err != nil {
		// 上下文装配不可用也不阻断：空上下文继续
		optimized = &domain.OptimizedContext{}
	}

	result := uc.generate(ctx, req, record, optimized)
	result.EstimatedTokens = optimized.EstimatedTokens
	monitoring.TurnDuration.WithLabelValues(string(result.FallbackLevel)).Observe(uc.now().Sub(start).Seconds())

	// 成功应答留存给降级层，并扇出到长期记忆
	if result.FallbackLevel == domain.FallbackNone {
		uc.failsafe.CacheResponse(req.Message, result.Response, 0.9)
		result.Store = uc.persistTurn(ctx, req, record.CurrentIntent, result.ToolsUsed)
	}

	uc.publishEvent(ctx, req, result, uc.now().Sub(start))
	return result, nil
}

// generate 主生成链路，任何失败都转交降级应答器
func (uc *TurnUsecase) generate(ctx context.Context, req *TurnRequest, record *domain.ConversationContext, optimized *domain.OptimizedContext) *TurnResult {
	messages := []domain.ChatMessage{
		{Role: "system", Content: systemPrompt(record, optimized)},
		{Role: "user", Content: req.Message},
	}

	gen, err := uc.llm.Generate(ctx, messages, optimized.RelevantTools)
	if err != nil {
		return uc.fallback(ctx, req, record, err)
	}

	var toolsUsed []string
	if len(gen.ToolCalls) > 0 {
		calls := gen.ToolCalls
		if len(calls) > maxToolCallsPerTurn {
			calls = calls[:maxToolCallsPerTurn]
		}
		for _, call := range calls {
			toolResult, err := uc.executeTool(ctx, req.ConversationID, call)
			if err != nil {
				return uc.fallback(ctx, req, record, err)
			}
			toolsUsed = append(toolsUsed, call.Tool)
			messages = append(messages, domain.ChatMessage{
				Role:    "tool",
				Content: fmt.Sprintf("%s: %s", call.Tool, SummarizeToolResult(call.Tool, toolResult)),
			})
		}

		gen, err = uc.llm.Generate(ctx, messages, nil)
		if err != nil {
			return uc.fallback(ctx, req, record, err)
		}
	}

	return &TurnResult{
		Response:      gen.Text,
		Intent:        record.CurrentIntent,
		FallbackLevel: domain.FallbackNone,
		ToolsUsed:     toolsUsed,
	}
}

// executeTool 带结果缓存的工具执行
func (uc *TurnUsecase) executeTool(ctx context.Context, conversationID string, call domain.ToolCall) (result []byte, err error) {
	if cached, ok := uc.tools.Lookup(ctx, call.Tool, call.Params); ok {
		monitoring.ToolCallsTotal.WithLabelValues(call.Tool, "cache").Inc()
		result = cached
	} else {
		result, err = uc.invoker.Call(ctx, call.Tool, call.Params)
		if err != nil {
			monitoring.ToolCallsTotal.WithLabelValues(call.Tool, "error").Inc()
			return nil, fmt.Errorf("tool %s failed: %w", call.Tool, err)
		}
		monitoring.ToolCallsTotal.WithLabelValues(call.Tool, "live").Inc()
		uc.tools.Store(ctx, call.Tool, call.Params, result)
	}

	if err := uc.contexts.RecordToolUsage(ctx, conversationID, call.Tool, call.Params, result); err != nil {
		uc.log.WithContext(ctx).Warnf("record tool usage failed: tool=%s err=%v", call.Tool, err)
	}
	return result, nil
}

// fallback 降级应答
func (uc *TurnUsecase) fallback(ctx context.Context, req *TurnRequest, record *domain.ConversationContext, cause error) *TurnResult {
	uc.log.WithContext(ctx).Warnf("primary path failed, falling back: conversation=%s err=%v", req.ConversationID, cause)
	resp := uc.failsafe.Resolve(req.Message, cause)
	return &TurnResult{
		Response:      resp.Response,
		Intent:        record.CurrentIntent,
		FallbackLevel: resp.Level,
		Confidence:    resp.Confidence,
	}
}

// persistTurn 把本轮查询扇出写入长期记忆
func (uc *TurnUsecase) persistTurn(ctx context.Context, req *TurnRequest, intent domain.Intent, tools []string) *domain.TriStoreResult {
	entry := &domain.ContextEntry{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		Kind:           domain.EntryKindQuery,
		Content:        req.Message,
		Intent:         intent,
		Tools:          tools,
		CreatedAt:      uc.now(),
	}
	result, err := uc.tristore.StoreContextEntry(ctx, entry)
	if err != nil {
		uc.log.WithContext(ctx).Warnf("turn not persisted: %v", err)
		return nil
	}
	return result
}

// publishEvent 尽力发布分析事件，失败仅记录
func (uc *TurnUsecase) publishEvent(ctx context.Context, req *TurnRequest, result *TurnResult, latency time.Duration) {
	if uc.events == nil || !uc.events.Enabled() {
		return
	}
	event := &domain.TurnEvent{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Intent:         result.Intent,
		FallbackLevel:  result.FallbackLevel,
		ToolsUsed:      result.ToolsUsed,
		LatencyMS:      latency.Milliseconds(),
	}
	if err := uc.events.PublishTurnCompleted(ctx, event); err != nil {
		uc.log.WithContext(ctx).Warnf("turn event not published: %v", err)
	}
}

// systemPrompt 装配系统提示
func systemPrompt(record *domain.ConversationContext, optimized *domain.OptimizedContext) string {
	personality := domain.PersonalityByID(record.PersonalityID)
	prompt := fmt.Sprintf("You are %s, a web3 assistant. Style: %s.", personality.Name, personality.Style)
	if optimized.CompressedText != "" {
		prompt += "\n\nConversation context:\n" + optimized.CompressedText
	}
	return prompt
}

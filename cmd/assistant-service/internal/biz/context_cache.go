package biz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/cache"
	"chainassistant/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

const (
	contextKeyPrefix = "conv:"
	memoryKeyPrefix  = "mem:"

	// maxInsightFragments 压缩上下文中并入的洞察片段上限
	maxInsightFragments = 2

	// intentHysteresisThreshold 最近工具调用中映射到同一建议意图的最小数量，
	// 达到后才允许工具驱动的意图切换（避免单次离题调用引起震荡）
	intentHysteresisThreshold = 2
)

// ContextCacheUsecase 会话工作记忆缓存
// 后端故障一律降级为"无上下文可用"，调用方按冷启动处理
type ContextCacheUsecase struct {
	store cache.Store
	ttl   time.Duration
	locks *keyedMutex
	log   *log.Helper
	now   func() time.Time
}

// NewContextCacheUsecase 创建会话上下文缓存
func NewContextCacheUsecase(store cache.Store, ttl time.Duration, logger log.Logger) *ContextCacheUsecase {
	return &ContextCacheUsecase{
		store: store,
		ttl:   ttl,
		locks: newKeyedMutex(),
		log:   log.NewHelper(log.With(logger, "module", "biz/context-cache")),
		now:   time.Now,
	}
}

// contextKey 会话记录键
func contextKey(conversationID string) string {
	return contextKeyPrefix + conversationID
}

// Initialize 创建会话上下文：从开场消息推断初始意图并提取实体
func (uc *ContextCacheUsecase) Initialize(ctx context.Context, conversationID, userID, personalityID, openingMessage string) (*domain.ConversationContext, error) {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	now := uc.now()
	record := &domain.ConversationContext{
		ConversationID: conversationID,
		UserID:         userID,
		PersonalityID:  personalityID,
		CurrentIntent:  domain.ClassifyQuery(openingMessage),
		ToolUsage:      make(map[string]int),
		EntityRefs:     make(map[string]string),
		CreatedAt:      now,
	}
	for _, addr := range domain.ExtractAddresses(openingMessage) {
		record.ActiveAddresses = domain.AppendBounded(record.ActiveAddresses, addr, domain.MaxActiveAddresses)
	}
	record.CompressedPrompt = buildCompressedPrompt(record)
	record.Touch(now, uc.ttl)

	uc.save(ctx, record)
	uc.log.WithContext(ctx).Debugf("initialized context: conversation=%s intent=%s", conversationID, record.CurrentIntent)
	return record, nil
}

// Get 惰性过期读取：过期记录被删除并视为不存在
func (uc *ContextCacheUsecase) Get(ctx context.Context, conversationID string) (*domain.ConversationContext, error) {
	data, err := uc.store.Get(ctx, contextKey(conversationID))
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			uc.log.WithContext(ctx).Warnf("context read degraded to miss: %v", err)
		}
		monitoring.CacheLookupsTotal.WithLabelValues("context", "miss").Inc()
		return nil, domain.ErrContextNotFound
	}

	var record domain.ConversationContext
	if err := json.Unmarshal(data, &record); err != nil {
		// 损坏的缓存负载按未命中处理并清除
		uc.log.WithContext(ctx).Warnf("corrupt context payload dropped: conversation=%s err=%v", conversationID, err)
		_ = uc.store.Delete(ctx, contextKey(conversationID))
		monitoring.CacheLookupsTotal.WithLabelValues("context", "miss").Inc()
		return nil, domain.ErrContextNotFound
	}

	if record.Expired(uc.now()) {
		_ = uc.store.Delete(ctx, contextKey(conversationID))
		monitoring.CacheLookupsTotal.WithLabelValues("context", "expired").Inc()
		return nil, domain.ErrContextNotFound
	}

	monitoring.CacheLookupsTotal.WithLabelValues("context", "hit").Inc()
	return &record, nil
}

// RecordToolUsage 记录一次工具调用并据此更新上下文
func (uc *ContextCacheUsecase) RecordToolUsage(ctx context.Context, conversationID, tool string, params map[string]interface{}, result json.RawMessage) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	record, err := uc.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	now := uc.now()
	record.RecentToolCalls = append(record.RecentToolCalls, domain.ToolCallRecord{
		Tool:      tool,
		Params:    params,
		Summary:   SummarizeToolResult(tool, result),
		Timestamp: now,
	})
	if len(record.RecentToolCalls) > domain.MaxRecentToolCalls {
		record.RecentToolCalls = record.RecentToolCalls[len(record.RecentToolCalls)-domain.MaxRecentToolCalls:]
	}

	uc.absorbToolEntities(record, params)
	uc.rerankPreferredTools(record, tool)
	uc.reclassifyFromTools(ctx, record, tool)

	record.CompressedPrompt = buildCompressedPrompt(record)
	record.TurnCount++
	record.Touch(now, uc.ttl)

	uc.save(ctx, record)
	return nil
}

// absorbToolEntities 从工具参数提取实体并并入活跃集
func (uc *ContextCacheUsecase) absorbToolEntities(record *domain.ConversationContext, params map[string]interface{}) {
	for key, raw := range params {
		value, ok := raw.(string)
		if !ok || value == "" {
			continue
		}
		switch key {
		case "address":
			record.ActiveAddresses = domain.AppendBounded(record.ActiveAddresses, value, domain.MaxActiveAddresses)
		case "tokenAddress", "contractAddress":
			record.ActiveTokens = domain.AppendBounded(record.ActiveTokens, value, domain.MaxActiveTokens)
		case "txHash", "transactionHash":
			record.ActiveTransactions = domain.AppendBounded(record.ActiveTransactions, value, domain.MaxActiveTransactions)
		}
	}
}

// rerankPreferredTools 按使用频次重排偏好工具，保留前 5
func (uc *ContextCacheUsecase) rerankPreferredTools(record *domain.ConversationContext, tool string) {
	if record.ToolUsage == nil {
		record.ToolUsage = make(map[string]int)
	}
	record.ToolUsage[tool]++

	names := make([]string, 0, len(record.ToolUsage))
	for name := range record.ToolUsage {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if record.ToolUsage[names[i]] != record.ToolUsage[names[j]] {
			return record.ToolUsage[names[i]] > record.ToolUsage[names[j]]
		}
		return names[i] < names[j]
	})
	if len(names) > domain.MaxPreferredTools {
		names = names[:domain.MaxPreferredTools]
	}
	record.PreferredTools = names
}

// reclassifyFromTools 工具驱动的意图再分类（toolIntentHysteresis 策略）
// 仅当最近调用中至少 2 次映射到同一建议意图时才切换
func (uc *ContextCacheUsecase) reclassifyFromTools(ctx context.Context, record *domain.ConversationContext, tool string) {
	suggested := domain.ToolIntentHint(tool)
	if suggested == "" || suggested == record.CurrentIntent {
		return
	}

	matching := 0
	for _, call := range record.RecentToolCalls {
		if domain.ToolIntentHint(call.Tool) == suggested {
			matching++
		}
	}
	if matching < intentHysteresisThreshold {
		return
	}

	uc.log.WithContext(ctx).Infof("intent switched by tool usage: conversation=%s %s -> %s",
		record.ConversationID, record.CurrentIntent, suggested)
	monitoring.IntentSwitchesTotal.WithLabelValues("tool_usage").Inc()
	record.CurrentIntent = suggested
}

// RecordNewQuery 记录一条新查询：并实体、按 intentOverridePolicy 重分类、补别名
func (uc *ContextCacheUsecase) RecordNewQuery(ctx context.Context, conversationID, queryText string) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()

	record, err := uc.Get(ctx, conversationID)
	if err != nil {
		return err
	}

	for _, addr := range domain.ExtractAddresses(queryText) {
		record.ActiveAddresses = domain.AppendBounded(record.ActiveAddresses, addr, domain.MaxActiveAddresses)
	}

	// intentOverridePolicy：新分类为通用兜底类别时不覆盖当前意图
	if newIntent := domain.ClassifyQuery(queryText); newIntent != domain.IntentGeneralQuery && newIntent != record.CurrentIntent {
		uc.log.WithContext(ctx).Debugf("intent switched by query: conversation=%s %s -> %s",
			conversationID, record.CurrentIntent, newIntent)
		monitoring.IntentSwitchesTotal.WithLabelValues("query").Inc()
		record.CurrentIntent = newIntent
	}

	// 别名只在首见时分配，之后不再变更
	if record.EntityRefs == nil {
		record.EntityRefs = make(map[string]string)
	}
	for _, addr := range record.ActiveAddresses {
		if _, ok := record.EntityRefs[addr]; !ok {
			record.EntityRefs[addr] = domain.NextAlias(record.EntityRefs, "addr")
		}
	}
	for _, token := range record.ActiveTokens {
		if _, ok := record.EntityRefs[token]; !ok {
			record.EntityRefs[token] = domain.NextAlias(record.EntityRefs, "token")
		}
	}

	record.CompressedPrompt = buildCompressedPrompt(record)
	record.Touch(uc.now(), uc.ttl)

	uc.save(ctx, record)
	return nil
}

// BuildOptimizedContext 装配供生成路径使用的压缩上下文与相关工具子集
func (uc *ContextCacheUsecase) BuildOptimizedContext(ctx context.Context, conversationID string) (*domain.OptimizedContext, error) {
	record, err := uc.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	var lines []string
	lines = append(lines, fmt.Sprintf("intent: %s", record.CurrentIntent))
	personality := domain.PersonalityByID(record.PersonalityID)
	lines = append(lines, fmt.Sprintf("user: %s | style: %s", record.UserID, personality.Style))

	if len(record.ActiveAddresses) > 0 {
		parts := make([]string, 0, len(record.ActiveAddresses))
		for _, addr := range record.ActiveAddresses {
			if alias, ok := record.EntityRefs[addr]; ok {
				parts = append(parts, fmt.Sprintf("%s=%s", alias, domain.ShortenAddress(addr)))
			} else {
				parts = append(parts, domain.ShortenAddress(addr))
			}
		}
		lines = append(lines, "addresses: "+strings.Join(parts, ", "))
	}

	if n := len(record.RecentToolCalls); n > 0 {
		last := record.RecentToolCalls[n-1]
		lines = append(lines, fmt.Sprintf("last tool: %s -> %s", last.Tool, last.Summary))
	}

	lines = append(lines, uc.insightFragments(ctx, record.UserID)...)

	text := strings.Join(lines, "\n")
	return &domain.OptimizedContext{
		CompressedText:  text,
		RelevantTools:   assembleRelevantTools(record),
		EntityRefs:      record.EntityRefs,
		EstimatedTokens: estimateTokens(text),
	}, nil
}

// insightFragments 读取最多两条该用户的缓存洞察
func (uc *ContextCacheUsecase) insightFragments(ctx context.Context, userID string) []string {
	prefix := fmt.Sprintf("%s%s:%s:", memoryKeyPrefix, userID, domain.EntryKindInsight)
	keys, err := uc.store.KeysWithPrefix(ctx, prefix)
	if err != nil || len(keys) == 0 {
		return nil
	}
	sort.Strings(keys)

	var lines []string
	for _, key := range keys {
		if len(lines) >= maxInsightFragments {
			break
		}
		data, err := uc.store.Get(ctx, key)
		if err != nil {
			continue
		}
		var entry domain.ContextEntry
		if err := json.Unmarshal(data, &entry); err != nil {
			continue
		}
		lines = append(lines, "insight: "+truncate(entry.Content, 120))
	}
	return lines
}

// assembleRelevantTools 工具子集并集装配
// 顺序：核心集 → 意图集 → 近期使用 → 实体触发集 → 用户偏好；去重后封顶
func assembleRelevantTools(record *domain.ConversationContext) []string {
	seen := make(map[string]struct{})
	var tools []string
	add := func(names ...string) {
		for _, name := range names {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			tools = append(tools, name)
		}
	}

	add(domain.CoreTools...)
	add(domain.IntentToolset(record.CurrentIntent)...)

	start := len(record.RecentToolCalls) - domain.RecentToolLookbackTurn
	if start < 0 {
		start = 0
	}
	for _, call := range record.RecentToolCalls[start:] {
		add(call.Tool)
	}

	if len(record.ActiveAddresses) > 0 {
		add(domain.AddressTools...)
	}
	if len(record.ActiveTokens) > 0 {
		add(domain.TokenTools...)
	}
	if len(record.ActiveTransactions) > 0 {
		add(domain.TransactionTools...)
	}
	add(record.PreferredTools...)

	if len(tools) > domain.MaxRelevantTools {
		tools = tools[:domain.MaxRelevantTools]
	}
	if len(tools) < domain.MinRelevantTools {
		add(domain.DiversityTools...)
		if len(tools) > domain.MaxToolsWithDiversity {
			tools = tools[:domain.MaxToolsWithDiversity]
		}
	}
	return tools
}

// Clear 删除一个会话的缓存上下文
func (uc *ContextCacheUsecase) Clear(ctx context.Context, conversationID string) error {
	unlock := uc.locks.Lock(conversationID)
	defer unlock()
	return uc.store.Delete(ctx, contextKey(conversationID))
}

// save 写回记录，存储故障降级为告警
func (uc *ContextCacheUsecase) save(ctx context.Context, record *domain.ConversationContext) {
	data, err := json.Marshal(record)
	if err != nil {
		uc.log.WithContext(ctx).Errorf("failed to marshal context: %v", err)
		return
	}
	if err := uc.store.Set(ctx, contextKey(record.ConversationID), data, uc.ttl); err != nil {
		uc.log.WithContext(ctx).Warnf("context write degraded to no-op: %v", err)
	}
}

// buildCompressedPrompt 再生成压缩提示片段
func buildCompressedPrompt(record *domain.ConversationContext) string {
	personality := domain.PersonalityByID(record.PersonalityID)
	lines := []string{
		fmt.Sprintf("intent: %s", record.CurrentIntent),
		fmt.Sprintf("style: %s", personality.Style),
	}
	if len(record.ActiveAddresses) > 0 {
		short := make([]string, 0, len(record.ActiveAddresses))
		for _, addr := range record.ActiveAddresses {
			short = append(short, domain.ShortenAddress(addr))
		}
		lines = append(lines, "addresses: "+strings.Join(short, ", "))
	}
	if n := len(record.RecentToolCalls); n > 0 {
		last := record.RecentToolCalls[n-1]
		lines = append(lines, fmt.Sprintf("last tool: %s -> %s", last.Tool, last.Summary))
	}
	return strings.Join(lines, "\n")
}

// estimateTokens 词数 × 0.75 向上取整
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*3 + 3) / 4
}

// truncate 按字节截断并附省略号
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

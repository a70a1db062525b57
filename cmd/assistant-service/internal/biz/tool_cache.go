package biz

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"chainassistant/pkg/cache"
	"chainassistant/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

const toolKeyPrefix = "tool:"

// defaultToolTTL 未在策略表中的工具的结果保鲜窗口
const defaultToolTTL = 300 * time.Second

// toolTTLPolicy 每工具的结果保鲜策略（进程启动时填充的只读表）
// 价格类 30s，余额类 60s，其余走默认值
var toolTTLPolicy = map[string]time.Duration{
	"get_gas_price":     30 * time.Second,
	"get_token_price":   30 * time.Second,
	"get_eth_price":     30 * time.Second,
	"get_balance":       60 * time.Second,
	"get_token_balance": 60 * time.Second,
}

// ToolTTL 工具结果的保鲜窗口，仅由工具名决定
func ToolTTL(tool string) time.Duration {
	if ttl, ok := toolTTLPolicy[tool]; ok {
		return ttl
	}
	return defaultToolTTL
}

// ToolResultEntry 工具结果缓存条目，写入后不可变（新调用整体覆盖）
type ToolResultEntry struct {
	ToolName   string                 `json:"tool_name"`
	Params     map[string]interface{} `json:"params"`
	Result     json.RawMessage        `json:"result"`
	Summary    string                 `json:"summary"`
	Timestamp  time.Time              `json:"timestamp"`
	TTLSeconds int                    `json:"ttl_seconds"`
}

// ToolResultCache 工具结果缓存
// 存储故障不上抛：未命中永远是安全结果
type ToolResultCache struct {
	store cache.Store
	log   *log.Helper
	now   func() time.Time
}

// NewToolResultCache 创建工具结果缓存
func NewToolResultCache(store cache.Store, logger log.Logger) *ToolResultCache {
	return &ToolResultCache{
		store: store,
		log:   log.NewHelper(log.With(logger, "module", "biz/tool-cache")),
		now:   time.Now,
	}
}

// toolKey 规范化缓存键：encoding/json 对 map 键排序输出，
// 参数顺序不同的等价调用得到同一哈希
func toolKey(tool string, params map[string]interface{}) (string, error) {
	canonical, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return fmt.Sprintf("%s%s:%s", toolKeyPrefix, tool, hex.EncodeToString(sum[:16])), nil
}

// Lookup 查询缓存结果，任何异常都视为未命中
func (c *ToolResultCache) Lookup(ctx context.Context, tool string, params map[string]interface{}) (json.RawMessage, bool) {
	key, err := toolKey(tool, params)
	if err != nil {
		return nil, false
	}

	data, err := c.store.Get(ctx, key)
	if err != nil {
		monitoring.CacheLookupsTotal.WithLabelValues("tool", "miss").Inc()
		return nil, false
	}

	var entry ToolResultEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.log.WithContext(ctx).Warnf("corrupt tool result dropped: tool=%s err=%v", tool, err)
		_ = c.store.Delete(ctx, key)
		monitoring.CacheLookupsTotal.WithLabelValues("tool", "miss").Inc()
		return nil, false
	}

	// 存储层 TTL 之外再校验一次时间窗，兜住不支持精确过期的后端
	if c.now().After(entry.Timestamp.Add(time.Duration(entry.TTLSeconds) * time.Second)) {
		_ = c.store.Delete(ctx, key)
		monitoring.CacheLookupsTotal.WithLabelValues("tool", "expired").Inc()
		return nil, false
	}

	monitoring.CacheLookupsTotal.WithLabelValues("tool", "hit").Inc()
	return entry.Result, true
}

// Store 缓存一次成功的工具调用结果，失败仅记录
func (c *ToolResultCache) Store(ctx context.Context, tool string, params map[string]interface{}, result json.RawMessage) {
	key, err := toolKey(tool, params)
	if err != nil {
		c.log.WithContext(ctx).Warnf("tool result not cached: %v", err)
		return
	}

	ttl := ToolTTL(tool)
	entry := ToolResultEntry{
		ToolName:   tool,
		Params:     params,
		Result:     result,
		Summary:    SummarizeToolResult(tool, result),
		Timestamp:  c.now(),
		TTLSeconds: int(ttl / time.Second),
	}
	data, err := json.Marshal(&entry)
	if err != nil {
		c.log.WithContext(ctx).Warnf("tool result not cached: %v", err)
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.log.WithContext(ctx).Warnf("tool result write degraded to no-op: %v", err)
	}
}

// SummarizeToolResult 工具感知的结果摘要
// 余额/价格类提取数额与单位，未识别的工具回退到截断序列化
func SummarizeToolResult(tool string, result json.RawMessage) string {
	switch tool {
	case "get_balance", "get_token_balance":
		if s := amountSummary(result, "amount", "unit", "symbol"); s != "" {
			return s
		}
	case "get_gas_price", "get_token_price", "get_eth_price":
		if s := amountSummary(result, "price", "unit", "currency"); s != "" {
			return s
		}
	}
	return truncate(string(result), 100)
}

// amountSummary 提取 "<数额> <单位>" 形式的摘要
func amountSummary(result json.RawMessage, amountKey string, unitKeys ...string) string {
	var payload map[string]interface{}
	if err := json.Unmarshal(result, &payload); err != nil {
		return ""
	}
	amount, ok := payload[amountKey]
	if !ok {
		return ""
	}
	for _, unitKey := range unitKeys {
		if unit, ok := payload[unitKey].(string); ok && unit != "" {
			return fmt.Sprintf("%v %s", amount, unit)
		}
	}
	return fmt.Sprintf("%v", amount)
}

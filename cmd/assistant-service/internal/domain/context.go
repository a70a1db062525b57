package domain

import (
	"fmt"
	"time"
)

// 上下文有界字段的容量上限
const (
	MaxActiveAddresses    = 5
	MaxActiveTokens       = 3
	MaxActiveTransactions = 3
	MaxRecentToolCalls    = 3
	MaxPreferredTools     = 5
)

// ConversationContext 会话工作记忆领域模型
// 每个会话一条记录，仅通过 ContextCacheUsecase 的操作修改
type ConversationContext struct {
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id"`
	PersonalityID  string `json:"personality_id"`

	CurrentIntent Intent `json:"current_intent"`

	ActiveAddresses    []string `json:"active_addresses"`
	ActiveTokens       []string `json:"active_tokens"`
	ActiveTransactions []string `json:"active_transactions"`

	RecentToolCalls []ToolCallRecord `json:"recent_tool_calls"`
	PreferredTools  []string         `json:"preferred_tools"`
	ToolUsage       map[string]int   `json:"tool_usage"`

	// EntityRefs 实体别名映射（追加写，别名一经分配不再变更）
	EntityRefs map[string]string `json:"entity_refs"`

	// CompressedPrompt 派生的压缩提示片段，随记录一起存储
	CompressedPrompt string `json:"compressed_prompt"`

	TurnCount   int       `json:"turn_count"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// ToolCallRecord 最近一次工具调用记录
type ToolCallRecord struct {
	Tool      string                 `json:"tool"`
	Params    map[string]interface{} `json:"params"`
	Summary   string                 `json:"summary"`
	Timestamp time.Time              `json:"timestamp"`
}

// Expired 判断记录是否已过期（惰性过期在读取时执行）
func (c *ConversationContext) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Touch 刷新时间戳，expiresAt = lastUpdated + ttl
func (c *ConversationContext) Touch(now time.Time, ttl time.Duration) {
	c.LastUpdated = now
	c.ExpiresAt = now.Add(ttl)
}

// AppendBounded 有界追加：已存在则保持原位，超限时丢弃最旧元素
func AppendBounded(list []string, value string, max int) []string {
	for _, v := range list {
		if v == value {
			return list
		}
	}
	list = append(list, value)
	if len(list) > max {
		list = list[len(list)-max:]
	}
	return list
}

// ShortenAddress 无别名时的地址缩写形式
func ShortenAddress(addr string) string {
	if len(addr) <= 12 {
		return addr
	}
	return fmt.Sprintf("%s…%s", addr[:6], addr[len(addr)-4:])
}

// OptimizedContext 供生成路径使用的压缩上下文
type OptimizedContext struct {
	CompressedText  string            `json:"compressed_text"`
	RelevantTools   []string          `json:"relevant_tools"`
	EntityRefs      map[string]string `json:"entity_refs"`
	EstimatedTokens int               `json:"estimated_tokens"`
}

package domain

import (
	"context"
	"encoding/json"
)

// VectorMatch 相似度检索命中
type VectorMatch struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Score    float32           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// VectorStore 相似度索引接口（Milvus 实现）
type VectorStore interface {
	// Enabled 能力开关，构造时决定一次
	Enabled() bool

	// Upsert 写入或更新一条内容
	Upsert(ctx context.Context, id, content string, metadata map[string]string) error

	// Query 按文本检索相似条目
	Query(ctx context.Context, text string, filter map[string]string, topK int) ([]VectorMatch, error)
}

// GraphStore 关系图接口（Neo4j 实现）
type GraphStore interface {
	// Enabled 能力开关，构造时决定一次
	Enabled() bool

	// MergeNode 合并节点：同 ID 重复写入更新属性而非新建
	MergeNode(ctx context.Context, label, id string, props map[string]interface{}) error

	// MergeEdge 合并关系边
	MergeEdge(ctx context.Context, fromID, toID, relType string, props map[string]interface{}) error

	// Run 执行查询
	Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error)
}

// ChatMessage 发往生成模型的消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolCall 模型请求的工具调用
type ToolCall struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

// GenerateResult 一次生成的结果
type GenerateResult struct {
	Text      string     `json:"text"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// LLMClient 生成模型客户端接口
type LLMClient interface {
	Generate(ctx context.Context, messages []ChatMessage, tools []string) (*GenerateResult, error)
}

// ToolInvoker 远程工具调用服务接口
type ToolInvoker interface {
	Call(ctx context.Context, tool string, params map[string]interface{}) (json.RawMessage, error)
}

// Embedder 向量化服务接口
type Embedder interface {
	Enabled() bool
	Embed(ctx context.Context, text string) ([]float32, error)
}

// TurnEvent 一轮会话完成后的分析事件
type TurnEvent struct {
	ConversationID string        `json:"conversation_id"`
	UserID         string        `json:"user_id"`
	Intent         Intent        `json:"intent"`
	FallbackLevel  FallbackLevel `json:"fallback_level"`
	ToolsUsed      []string      `json:"tools_used,omitempty"`
	LatencyMS      int64         `json:"latency_ms"`
}

// EventPublisher 分析事件发布接口（Kafka 实现，尽力投递）
type EventPublisher interface {
	Enabled() bool
	PublishTurnCompleted(ctx context.Context, event *TurnEvent) error
}

package domain

import "time"

// EntryKind 上下文条目类型
type EntryKind string

const (
	EntryKindQuery   EntryKind = "query"
	EntryKindInsight EntryKind = "insight"
)

// EdgeType 条目类型对应的图边类型
func (k EntryKind) EdgeType() string {
	if k == EntryKindInsight {
		return "LEARNED_FROM"
	}
	return "QUERIES"
}

// NodeLabel 条目类型对应的图节点标签
func (k EntryKind) NodeLabel() string {
	if k == EntryKindInsight {
		return "Insight"
	}
	return "Query"
}

// ContextEntry 扇出写入三个存储的上下文条目
type ContextEntry struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	ConversationID string            `json:"conversation_id"`
	Kind           EntryKind         `json:"kind"`
	Content        string            `json:"content"`
	Intent         Intent            `json:"intent"`
	Tools          []string          `json:"tools,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StoreOutcome 单个存储目标的写入结果
type StoreOutcome struct {
	Attempted bool   `json:"attempted"`
	OK        bool   `json:"ok"`
	Err       string `json:"err,omitempty"`
}

// TriStoreResult 三路扇出写入的独立结果
type TriStoreResult struct {
	TTL    StoreOutcome `json:"ttl"`
	Vector StoreOutcome `json:"vector"`
	Graph  StoreOutcome `json:"graph"`
}

// AllOK 三路是否全部成功（跳过的目标不算失败）
func (r *TriStoreResult) AllOK() bool {
	for _, o := range []StoreOutcome{r.TTL, r.Vector, r.Graph} {
		if o.Attempted && !o.OK {
			return false
		}
	}
	return true
}

package biz

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/cache"
	"chainassistant/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

// TriStoreWriter 上下文条目三路扇出写入
// 三个目标相互独立：单路失败被捕获、记录并报告在自己的结果槽位，
// 不回滚也不阻断其余两路（无跨存储事务）
type TriStoreWriter struct {
	ttlStore cache.Store
	vector   domain.VectorStore
	graph    domain.GraphStore
	entryTTL time.Duration
	log      *log.Helper
}

// NewTriStoreWriter 创建三路写入器
func NewTriStoreWriter(
	ttlStore cache.Store,
	vector domain.VectorStore,
	graph domain.GraphStore,
	entryTTL time.Duration,
	logger log.Logger,
) *TriStoreWriter {
	return &TriStoreWriter{
		ttlStore: ttlStore,
		vector:   vector,
		graph:    graph,
		entryTTL: entryTTL,
		log:      log.NewHelper(log.With(logger, "module", "biz/tristore")),
	}
}

// entryKey 快速查找存储中的条目键
func entryKey(entry *domain.ContextEntry) string {
	return fmt.Sprintf("%s%s:%s:%s", memoryKeyPrefix, entry.UserID, entry.Kind, entry.ID)
}

// StoreContextEntry 扇出写入，仅在条目标识结构性非法时报错
func (w *TriStoreWriter) StoreContextEntry(ctx context.Context, entry *domain.ContextEntry) (*domain.TriStoreResult, error) {
	if entry == nil || entry.ID == "" || entry.UserID == "" {
		return nil, domain.ErrInvalidEntry
	}
	if entry.Kind == "" {
		entry.Kind = domain.EntryKindQuery
	}

	result := &domain.TriStoreResult{}

	// 三路并行，各自独立收尾；不用 errgroup 是因为
	// 单路失败不允许取消其余路
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		result.TTL = w.writeTTL(ctx, entry)
	}()
	go func() {
		defer wg.Done()
		result.Vector = w.writeVector(ctx, entry)
	}()
	go func() {
		defer wg.Done()
		result.Graph = w.writeGraph(ctx, entry)
	}()
	wg.Wait()

	if !result.AllOK() {
		w.log.WithContext(ctx).Warnf("tri-store write partially failed: entry=%s ttl=%v vector=%v graph=%v",
			entry.ID, result.TTL.OK, result.Vector.OK, result.Graph.OK)
	}
	return result, nil
}

// writeTTL 快速查找存储路
func (w *TriStoreWriter) writeTTL(ctx context.Context, entry *domain.ContextEntry) domain.StoreOutcome {
	if !w.ttlStore.Enabled() {
		monitoring.TriStoreWritesTotal.WithLabelValues("ttl", "skipped").Inc()
		return domain.StoreOutcome{Attempted: false, Err: "ttl store disabled"}
	}

	data, err := json.Marshal(entry)
	if err != nil {
		monitoring.TriStoreWritesTotal.WithLabelValues("ttl", "failed").Inc()
		return domain.StoreOutcome{Attempted: true, Err: err.Error()}
	}
	if err := w.ttlStore.Set(ctx, entryKey(entry), data, w.entryTTL); err != nil {
		w.log.WithContext(ctx).Warnf("ttl write failed: entry=%s err=%v", entry.ID, err)
		monitoring.TriStoreWritesTotal.WithLabelValues("ttl", "failed").Inc()
		return domain.StoreOutcome{Attempted: true, Err: err.Error()}
	}
	monitoring.TriStoreWritesTotal.WithLabelValues("ttl", "ok").Inc()
	return domain.StoreOutcome{Attempted: true, OK: true}
}

// writeVector 相似度索引路
func (w *TriStoreWriter) writeVector(ctx context.Context, entry *domain.ContextEntry) domain.StoreOutcome {
	if w.vector == nil || !w.vector.Enabled() {
		monitoring.TriStoreWritesTotal.WithLabelValues("vector", "skipped").Inc()
		return domain.StoreOutcome{Attempted: false, Err: "vector store disabled"}
	}

	metadata := map[string]string{
		"user_id": entry.UserID,
		"kind":    string(entry.Kind),
		"intent":  string(entry.Intent),
	}
	if err := w.vector.Upsert(ctx, entry.ID, entry.Content, metadata); err != nil {
		w.log.WithContext(ctx).Warnf("vector write failed: entry=%s err=%v", entry.ID, err)
		monitoring.TriStoreWritesTotal.WithLabelValues("vector", "failed").Inc()
		return domain.StoreOutcome{Attempted: true, Err: err.Error()}
	}
	monitoring.TriStoreWritesTotal.WithLabelValues("vector", "ok").Inc()
	return domain.StoreOutcome{Attempted: true, OK: true}
}

// writeGraph 关系图路：合并用户节点、条目节点、查询/习得边与工具使用边
func (w *TriStoreWriter) writeGraph(ctx context.Context, entry *domain.ContextEntry) domain.StoreOutcome {
	if w.graph == nil || !w.graph.Enabled() {
		monitoring.TriStoreWritesTotal.WithLabelValues("graph", "skipped").Inc()
		return domain.StoreOutcome{Attempted: false, Err: "graph store disabled"}
	}

	fail := func(err error) domain.StoreOutcome {
		w.log.WithContext(ctx).Warnf("graph write failed: entry=%s err=%v", entry.ID, err)
		monitoring.TriStoreWritesTotal.WithLabelValues("graph", "failed").Inc()
		return domain.StoreOutcome{Attempted: true, Err: err.Error()}
	}

	if err := w.graph.MergeNode(ctx, "User", entry.UserID, map[string]interface{}{
		"last_seen": entry.CreatedAt.Unix(),
	}); err != nil {
		return fail(err)
	}

	if err := w.graph.MergeNode(ctx, entry.Kind.NodeLabel(), entry.ID, map[string]interface{}{
		"content":         truncate(entry.Content, 500),
		"intent":          string(entry.Intent),
		"conversation_id": entry.ConversationID,
		"created_at":      entry.CreatedAt.Unix(),
	}); err != nil {
		return fail(err)
	}

	if err := w.graph.MergeEdge(ctx, entry.UserID, entry.ID, entry.Kind.EdgeType(), map[string]interface{}{
		"at": entry.CreatedAt.Unix(),
	}); err != nil {
		return fail(err)
	}

	for _, tool := range entry.Tools {
		if err := w.graph.MergeNode(ctx, "Tool", tool, nil); err != nil {
			return fail(err)
		}
		if err := w.graph.MergeEdge(ctx, entry.ID, tool, "USED_TOOL", nil); err != nil {
			return fail(err)
		}
	}

	monitoring.TriStoreWritesTotal.WithLabelValues("graph", "ok").Inc()
	return domain.StoreOutcome{Attempted: true, OK: true}
}

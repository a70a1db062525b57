package data

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// identPattern 标签与边类型的合法形式（Cypher 不支持参数化标签）
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Neo4jGraphStore Neo4j 关系图实现
type Neo4jGraphStore struct {
	driver  neo4j.DriverWithContext
	timeout time.Duration
	log     *log.Helper
}

// NewNeo4jGraphStore 创建图存储，driver 为 nil 时整体停用
func NewNeo4jGraphStore(driver neo4j.DriverWithContext, timeout time.Duration, logger log.Logger) *Neo4jGraphStore {
	return &Neo4jGraphStore{
		driver:  driver,
		timeout: timeout,
		log:     log.NewHelper(log.With(logger, "module", "data/neo4j")),
	}
}

// Enabled 能力开关
func (s *Neo4jGraphStore) Enabled() bool {
	return s.driver != nil
}

// MergeNode 合并节点：同 ID 重复写入更新属性而非新建
func (s *Neo4jGraphStore) MergeNode(ctx context.Context, label, id string, props map[string]interface{}) error {
	if !s.Enabled() {
		return domain.ErrStoreDisabled
	}
	if !identPattern.MatchString(label) {
		return fmt.Errorf("invalid node label: %q", label)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MERGE (n:%s {id: $id})
		SET n += $props
	`, label)

	_, err := session.Run(ctx, query, map[string]interface{}{
		"id":    id,
		"props": props,
	})
	if err != nil {
		return fmt.Errorf("failed to merge node %s/%s: %w", label, id, err)
	}
	return nil
}

// MergeEdge 合并关系边
func (s *Neo4jGraphStore) MergeEdge(ctx context.Context, fromID, toID, relType string, props map[string]interface{}) error {
	if !s.Enabled() {
		return domain.ErrStoreDisabled
	}
	if !identPattern.MatchString(relType) {
		return fmt.Errorf("invalid relationship type: %q", relType)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
		MATCH (a {id: $from_id})
		MATCH (b {id: $to_id})
		MERGE (a)-[r:%s]->(b)
		SET r += $props
	`, relType)

	_, err := session.Run(ctx, query, map[string]interface{}{
		"from_id": fromID,
		"to_id":   toID,
		"props":   props,
	})
	if err != nil {
		return fmt.Errorf("failed to merge edge %s->%s: %w", fromID, toID, err)
	}
	return nil
}

// Run 执行查询并物化结果行
func (s *Neo4jGraphStore) Run(ctx context.Context, query string, params map[string]interface{}) ([]map[string]interface{}, error) {
	if !s.Enabled() {
		return nil, domain.ErrStoreDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graph query failed: %w", err)
	}

	var rows []map[string]interface{}
	for result.Next(ctx) {
		record := result.Record()
		row := make(map[string]interface{}, len(record.Keys))
		for _, key := range record.Keys {
			row[key], _ = record.Get(key)
		}
		rows = append(rows, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("graph result iteration failed: %w", err)
	}
	return rows, nil
}

// Close 关闭驱动
func (s *Neo4jGraphStore) Close(ctx context.Context) error {
	if s.driver == nil {
		return nil
	}
	return s.driver.Close(ctx)
}

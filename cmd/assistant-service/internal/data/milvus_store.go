package data

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"chainassistant/cmd/assistant-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

const (
	milvusVectorField  = "embedding"
	milvusContentField = "content"
	milvusMaxVarChar   = "4096"
)

// MilvusVectorStore Milvus 相似度索引实现
// 客户端或向量化服务缺失时整体停用，写入与检索均为空操作
type MilvusVectorStore struct {
	milvus     client.Client
	embedder   domain.Embedder
	collection string
	dim        int
	timeout    time.Duration
	log        *log.Helper
}

// NewMilvusVectorStore 创建向量存储，必要时建集合与索引
func NewMilvusVectorStore(
	milvus client.Client,
	embedder domain.Embedder,
	collection string,
	dim int,
	timeout time.Duration,
	logger log.Logger,
) (*MilvusVectorStore, error) {
	s := &MilvusVectorStore{
		milvus:     milvus,
		embedder:   embedder,
		collection: collection,
		dim:        dim,
		timeout:    timeout,
		log:        log.NewHelper(log.With(logger, "module", "data/milvus")),
	}
	if !s.Enabled() {
		return s, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.ensureCollection(ctx); err != nil {
		return nil, fmt.Errorf("failed to ensure milvus collection: %w", err)
	}
	return s, nil
}

// Enabled 能力开关：需要 Milvus 客户端和向量化服务同时可用
func (s *MilvusVectorStore) Enabled() bool {
	return s.milvus != nil && s.embedder != nil && s.embedder.Enabled()
}

// ensureCollection 建集合、索引并加载
func (s *MilvusVectorStore) ensureCollection(ctx context.Context) error {
	has, err := s.milvus.HasCollection(ctx, s.collection)
	if err != nil {
		return err
	}
	if !has {
		schema := &entity.Schema{
			CollectionName: s.collection,
			Fields: []*entity.Field{
				{Name: "id", DataType: entity.FieldTypeVarChar, PrimaryKey: true,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "64"}},
				{Name: milvusContentField, DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: milvusMaxVarChar}},
				{Name: "user_id", DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "64"}},
				{Name: "kind", DataType: entity.FieldTypeVarChar,
					TypeParams: map[string]string{entity.TypeParamMaxLength: "32"}},
				{Name: milvusVectorField, DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{entity.TypeParamDim: fmt.Sprintf("%d", s.dim)}},
			},
		}
		if err := s.milvus.CreateCollection(ctx, schema, 1); err != nil {
			return err
		}
		idx, err := entity.NewIndexAUTOINDEX(entity.COSINE)
		if err != nil {
			return err
		}
		if err := s.milvus.CreateIndex(ctx, s.collection, milvusVectorField, idx, false); err != nil {
			return err
		}
	}
	return s.milvus.LoadCollection(ctx, s.collection, false)
}

// Upsert 写入或更新一条内容
func (s *MilvusVectorStore) Upsert(ctx context.Context, id, content string, metadata map[string]string) error {
	if !s.Enabled() {
		return domain.ErrStoreDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed content: %w", err)
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("id", []string{id}),
		entity.NewColumnVarChar(milvusContentField, []string{truncateVarChar(content)}),
		entity.NewColumnVarChar("user_id", []string{metadata["user_id"]}),
		entity.NewColumnVarChar("kind", []string{metadata["kind"]}),
		entity.NewColumnFloatVector(milvusVectorField, s.dim, [][]float32{vec}),
	}
	if _, err := s.milvus.Upsert(ctx, s.collection, "", columns...); err != nil {
		return fmt.Errorf("milvus upsert failed: %w", err)
	}
	return nil
}

// Query 按文本检索相似条目
func (s *MilvusVectorStore) Query(ctx context.Context, text string, filter map[string]string, topK int) ([]domain.VectorMatch, error) {
	if !s.Enabled() {
		return nil, domain.ErrStoreDisabled
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	sp, err := entity.NewIndexAUTOINDEXSearchParam(1)
	if err != nil {
		return nil, err
	}

	results, err := s.milvus.Search(
		ctx, s.collection, nil,
		buildExpr(filter),
		[]string{"id", milvusContentField},
		[]entity.Vector{entity.FloatVector(vec)},
		milvusVectorField, entity.COSINE, topK, sp,
	)
	if err != nil {
		return nil, fmt.Errorf("milvus search failed: %w", err)
	}

	var matches []domain.VectorMatch
	for _, res := range results {
		ids := varCharData(res.Fields.GetColumn("id"))
		contents := varCharData(res.Fields.GetColumn(milvusContentField))
		for i := 0; i < res.ResultCount; i++ {
			m := domain.VectorMatch{Score: res.Scores[i]}
			if i < len(ids) {
				m.ID = ids[i]
			}
			if i < len(contents) {
				m.Content = contents[i]
			}
			matches = append(matches, m)
		}
	}
	return matches, nil
}

// buildExpr 由过滤条件构造布尔表达式，键序固定保证可测
func buildExpr(filter map[string]string) string {
	if len(filter) == 0 {
		return ""
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s == "%s"`, k, strings.ReplaceAll(filter[k], `"`, "")))
	}
	return strings.Join(parts, " && ")
}

// varCharData 从结果列提取字符串值
func varCharData(col entity.Column) []string {
	vc, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return nil
	}
	return vc.Data()
}

// truncateVarChar 截断内容以适配列长度限制
func truncateVarChar(content string) string {
	const max = 4000
	if len(content) <= max {
		return content
	}
	return content[:max]
}

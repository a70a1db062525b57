package biz

import (
	"regexp"
	"strings"
	"sync"

	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/pkg/monitoring"

	"github.com/go-kratos/kratos/v2/log"
)

// maxCachedResponses 成功响应缓存的硬上限，超出后按插入顺序逐出最旧条目
const maxCachedResponses = 1000

// similarityThreshold 归一化查询词集的 Jaccard 相似度阈值
const similarityThreshold = 0.7

// cachedResponse 一次成功交互的留存副本
type cachedResponse struct {
	Query      string
	Response   string
	Confidence float64
	UsageCount int
}

// FailsafeResolver 主链路失败时的降级应答器
// 三级瀑布：历史相似应答、类别模板、紧急提示，级别越深置信度越低
type FailsafeResolver struct {
	mu        sync.RWMutex
	responses map[string]*cachedResponse
	order     []string

	log *log.Helper
}

// NewFailsafeResolver 创建降级应答器
func NewFailsafeResolver(logger log.Logger) *FailsafeResolver {
	return &FailsafeResolver{
		responses: make(map[string]*cachedResponse),
		log:       log.NewHelper(log.With(logger, "module", "biz/failsafe")),
	}
}

var (
	numberPattern = regexp.MustCompile(`\d+`)
	punctPattern  = regexp.MustCompile(`[^\w\s]`)
	spacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeQuery 查询归一化：小写、地址与数字脱敏、去标点、折叠空白
// 归一化后相同的查询共享同一个缓存槽位
func NormalizeQuery(query string) string {
	q := strings.ToLower(query)
	q = domain.ReplaceAddresses(q, "addr")
	q = numberPattern.ReplaceAllString(q, "num")
	q = punctPattern.ReplaceAllString(q, " ")
	q = spacePattern.ReplaceAllString(q, " ")
	return strings.TrimSpace(q)
}

// CacheResponse 留存一次成功应答供后续降级复用
// 同一归一化查询原地覆盖，不挤占逐出顺序
func (r *FailsafeResolver) CacheResponse(query, response string, confidence float64) {
	normalized := NormalizeQuery(query)
	if normalized == "" || response == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.responses[normalized]; ok {
		existing.Response = response
		existing.Confidence = confidence
		return
	}

	if len(r.order) >= maxCachedResponses {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.responses, oldest)
	}
	r.responses[normalized] = &cachedResponse{
		Query:      normalized,
		Response:   response,
		Confidence: confidence,
	}
	r.order = append(r.order, normalized)
}

// Resolve 依次尝试三级降级，保证总能返回一个应答
func (r *FailsafeResolver) Resolve(query string, cause error) *domain.FailsafeResponse {
	if resp := r.resolveCached(query); resp != nil {
		monitoring.FallbacksTotal.WithLabelValues(string(domain.FallbackCached)).Inc()
		return resp
	}
	if resp := r.resolveTemplate(query); resp != nil {
		monitoring.FallbacksTotal.WithLabelValues(string(domain.FallbackTemplate)).Inc()
		return resp
	}
	monitoring.FallbacksTotal.WithLabelValues(string(domain.FallbackEmergency)).Inc()
	return r.resolveEmergency(cause)
}

// resolveCached 第一级：精确或相似的历史应答
func (r *FailsafeResolver) resolveCached(query string) *domain.FailsafeResponse {
	normalized := NormalizeQuery(query)
	if normalized == "" {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.responses[normalized]; ok {
		entry.UsageCount++
		return &domain.FailsafeResponse{
			Response:   entry.Response,
			Level:      domain.FallbackCached,
			Confidence: entry.Confidence,
			Category:   domain.ClassifyQueryCategory(query),
		}
	}

	// 相似匹配：归一化词集的 Jaccard 系数
	queryTokens := tokenSet(normalized)
	var best *cachedResponse
	bestScore := 0.0
	for _, entry := range r.responses {
		score := jaccard(queryTokens, tokenSet(entry.Query))
		if score >= similarityThreshold && score > bestScore {
			best = entry
			bestScore = score
		}
	}
	if best == nil {
		return nil
	}
	best.UsageCount++
	return &domain.FailsafeResponse{
		Response:   "Based on a similar query: " + best.Response,
		Level:      domain.FallbackCached,
		Confidence: best.Confidence * 0.8,
		Category:   domain.ClassifyQueryCategory(query),
	}
}

// resolveTemplate 第二级：按查询类别的静态模板
func (r *FailsafeResolver) resolveTemplate(query string) *domain.FailsafeResponse {
	category := domain.ClassifyQueryCategory(query)
	template, ok := domain.QueryTemplates[category]
	if !ok {
		return nil
	}
	return &domain.FailsafeResponse{
		Response:   template,
		Level:      domain.FallbackTemplate,
		Confidence: 0.6,
		Category:   category,
	}
}

// resolveEmergency 第三级终点：按故障类别的紧急提示，必定成功
func (r *FailsafeResolver) resolveEmergency(cause error) *domain.FailsafeResponse {
	category := domain.ClassifyError(cause)
	msg, ok := domain.EmergencyMessages[category]
	if !ok {
		msg = domain.EmergencyMessages[domain.ErrorCategoryGeneral]
	}
	return &domain.FailsafeResponse{
		Response:   msg,
		Level:      domain.FallbackEmergency,
		Confidence: 0.3,
		Category:   domain.QueryCategoryGeneral,
	}
}

// FailsafeStats 降级缓存的运行时快照
type FailsafeStats struct {
	CachedResponses int `json:"cached_responses"`
	TotalUsage      int `json:"total_usage"`
}

// Stats 当前缓存规模与复用次数
func (r *FailsafeResolver) Stats() FailsafeStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, entry := range r.responses {
		total += entry.UsageCount
	}
	return FailsafeStats{
		CachedResponses: len(r.responses),
		TotalUsage:      total,
	}
}

// Clear 清空留存的应答
func (r *FailsafeResolver) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = make(map[string]*cachedResponse)
	r.order = nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

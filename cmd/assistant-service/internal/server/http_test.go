package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"chainassistant/cmd/assistant-service/internal/biz"
	"chainassistant/cmd/assistant-service/internal/domain"
	"chainassistant/cmd/assistant-service/internal/service"
	"chainassistant/pkg/cache"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedLLM 固定应答的生成模型
type scriptedLLM struct {
	text string
	err  error
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []domain.ChatMessage, tools []string) (*domain.GenerateResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &domain.GenerateResult{Text: s.text}, nil
}

// noopInvoker 不会被调用的工具调用器
type noopInvoker struct{}

func (noopInvoker) Call(ctx context.Context, tool string, params map[string]interface{}) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func newTestServer(t *testing.T, llm domain.LLMClient) *HTTPServer {
	t.Helper()
	logger := log.NewStdLogger(os.Stdout)
	store := cache.NewMemoryStore()

	contexts := biz.NewContextCacheUsecase(store, 30*time.Minute, logger)
	tools := biz.NewToolResultCache(store, logger)
	tristore := biz.NewTriStoreWriter(store, nil, nil, time.Hour, logger)
	failsafe := biz.NewFailsafeResolver(logger)
	turns := biz.NewTurnUsecase(contexts, tools, tristore, failsafe, llm, noopInvoker{}, nil, logger)
	svc := service.NewAssistantService(turns, contexts, failsafe, store, logger)

	return NewHTTPServer(svc, zap.NewNop())
}

func doJSON(t *testing.T, srv *HTTPServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Engine().ServeHTTP(w, req)
	return w
}

func TestHTTP_Health(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	w := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestHTTP_ChatRoundTrip(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "Gas is 20 gwei."})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		`{"conversation_id": "conv-1", "user_id": "user-1", "message": "what is the gas price"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result biz.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, "Gas is 20 gwei.", result.Response)
	assert.Equal(t, domain.FallbackNone, result.FallbackLevel)
	assert.Equal(t, domain.IntentGasAnalysis, result.Intent)
}

func TestHTTP_ChatValidatesInput(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/chat", `{"message": "hi"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, srv, http.MethodPost, "/api/v1/chat", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHTTP_ContextLifecycle(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	// 初始化
	w := doJSON(t, srv, http.MethodPost, "/api/v1/context/initialize",
		`{"conversation_id": "conv-1", "user_id": "user-1", "personality_id": "trader", "message": "check my balance"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// 读取
	w = doJSON(t, srv, http.MethodGet, "/api/v1/context/conv-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var record domain.ConversationContext
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, domain.IntentBalanceCheck, record.CurrentIntent)
	assert.Equal(t, "trader", record.PersonalityID)

	// 删除后读取 404
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/context/conv-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = doJSON(t, srv, http.MethodGet, "/api/v1/context/conv-1", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_ContextMissingReturns404(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	w := doJSON(t, srv, http.MethodGet, "/api/v1/context/none", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHTTP_AdminCacheStats(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	doJSON(t, srv, http.MethodPost, "/api/v1/context/initialize",
		`{"conversation_id": "conv-1", "user_id": "user-1"}`)

	w := doJSON(t, srv, http.MethodGet, "/api/v1/admin/cache/stats", "")
	require.Equal(t, http.StatusOK, w.Code)

	var stats service.CacheStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.Contexts)

	// flush 后归零
	w = doJSON(t, srv, http.MethodPost, "/api/v1/admin/cache/flush", "")
	require.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodGet, "/api/v1/admin/cache/stats", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 0, stats.Contexts)
}

func TestHTTP_FailsafeAdminFlow(t *testing.T) {
	// 主链路失败的会话也会得到响应，并出现在降级统计里
	srv := newTestServer(t, &scriptedLLM{err: context.DeadlineExceeded})

	w := doJSON(t, srv, http.MethodPost, "/api/v1/chat",
		`{"conversation_id": "conv-1", "user_id": "user-1", "message": "what is the gas price"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var result biz.TurnResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, domain.FallbackTemplate, result.FallbackLevel)
	assert.NotEmpty(t, result.Response)

	// 演练端点
	w = doJSON(t, srv, http.MethodPost, "/api/v1/admin/failsafe/test",
		`{"query": "what is the gas price", "error": "rate limit"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var resp domain.FailsafeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, domain.QueryCategoryGas, resp.Category)

	// 统计与清空
	w = doJSON(t, srv, http.MethodGet, "/api/v1/admin/failsafe/stats", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doJSON(t, srv, http.MethodDelete, "/api/v1/admin/failsafe/cache", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHTTP_MetricsExposed(t *testing.T) {
	srv := newTestServer(t, &scriptedLLM{text: "ok"})

	w := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

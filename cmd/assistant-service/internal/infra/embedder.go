package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chainassistant/cmd/assistant-service/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
)

// HTTPEmbedder 向量化服务客户端
// BaseURL 未配置时 Enabled 为假，向量存储整体停用
type HTTPEmbedder struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *log.Helper
}

// NewHTTPEmbedder 创建向量化客户端
func NewHTTPEmbedder(cfg conf.EmbeddingConfig, logger log.Logger) *HTTPEmbedder {
	return &HTTPEmbedder{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		logger:     log.NewHelper(log.With(logger, "module", "infra/embedder")),
	}
}

// Enabled 能力开关
func (e *HTTPEmbedder) Enabled() bool {
	return e.baseURL != ""
}

// embedRequest 向量化请求体
type embedRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

// embedResponse 向量化响应体
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// Embed 向量化一段文本
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if !e.Enabled() {
		return nil, fmt.Errorf("embedder not configured")
	}

	body, err := json.Marshal(&embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	var out embedResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode embed response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embedding error: %s", out.Error)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("embedding service returned empty vector")
	}
	return out.Embedding, nil
}

package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"chainassistant/cmd/assistant-service/internal/conf"
	"chainassistant/cmd/assistant-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
)

// LLMClient 生成模型 HTTP 客户端
type LLMClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	logger     *log.Helper
}

// NewLLMClient 创建生成模型客户端
func NewLLMClient(cfg conf.LLMConfig, logger log.Logger) *LLMClient {
	return &LLMClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		logger:     log.NewHelper(log.With(logger, "module", "infra/llm-client")),
	}
}

// generateRequest 生成请求体
type generateRequest struct {
	Model    string               `json:"model"`
	Messages []domain.ChatMessage `json:"messages"`
	Tools    []string             `json:"tools,omitempty"`
}

// generateResponse 生成响应体
type generateResponse struct {
	Text      string            `json:"text"`
	ToolCalls []domain.ToolCall `json:"tool_calls,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// Generate 调用生成接口
func (c *LLMClient) Generate(ctx context.Context, messages []domain.ChatMessage, tools []string) (*domain.GenerateResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("llm base_url not configured")
	}

	body, err := json.Marshal(&generateRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read llm response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llm returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode llm response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("llm error: %s", out.Error)
	}

	return &domain.GenerateResult{
		Text:      out.Text,
		ToolCalls: out.ToolCalls,
	}, nil
}

func truncateBody(data []byte) string {
	const max = 200
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

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

// ToolClient 链上工具调用服务的 HTTP 客户端
type ToolClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *log.Helper
}

// NewToolClient 创建工具调用客户端
func NewToolClient(cfg conf.ToolServiceConfig, logger log.Logger) *ToolClient {
	return &ToolClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		logger:     log.NewHelper(log.With(logger, "module", "infra/tool-client")),
	}
}

// toolCallRequest 工具调用请求体
type toolCallRequest struct {
	Tool   string                 `json:"tool"`
	Params map[string]interface{} `json:"params"`
}

// toolCallResponse 工具调用响应体
type toolCallResponse struct {
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error,omitempty"`
}

// Call 执行一次工具调用
func (c *ToolClient) Call(ctx context.Context, tool string, params map[string]interface{}) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("tool service base_url not configured")
	}

	body, err := json.Marshal(&toolCallRequest{Tool: tool, Params: params})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/tools/call", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build tool request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tool request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read tool response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tool service returned status %d: %s", resp.StatusCode, truncateBody(data))
	}

	var out toolCallResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode tool response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("tool %s error: %s", tool, out.Error)
	}
	return out.Result, nil
}

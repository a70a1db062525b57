package infra

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"chainassistant/cmd/assistant-service/internal/conf"
	"chainassistant/cmd/assistant-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/sony/gobreaker"
)

// ResilientLLMClient 带熔断和重试的生成模型客户端
// 熔断打开或重试耗尽时直接报错，降级应答由上层决定
type ResilientLLMClient struct {
	base    domain.LLMClient
	breaker *gobreaker.CircuitBreaker
	retry   conf.RetryConfig
	logger  *log.Helper
}

// NewResilientLLMClient 创建弹性客户端
func NewResilientLLMClient(base domain.LLMClient, cfg conf.ResilienceConfig, logger log.Logger) *ResilientLLMClient {
	helper := log.NewHelper(log.With(logger, "module", "infra/resilient-llm"))

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm",
		MaxRequests: cfg.CircuitBreaker.MaxRequests,
		Interval:    cfg.CircuitBreaker.Interval,
		Timeout:     cfg.CircuitBreaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.CircuitBreaker.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.CircuitBreaker.Threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			helper.Infof("circuit breaker %s: %s -> %s", name, from, to)
		},
	})

	return &ResilientLLMClient{
		base:    base,
		breaker: breaker,
		retry:   cfg.Retry,
		logger:  helper,
	}
}

// Generate 带熔断与指数退避重试的生成调用
func (c *ResilientLLMClient) Generate(ctx context.Context, messages []domain.ChatMessage, tools []string) (*domain.GenerateResult, error) {
	var lastErr error

	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		result, err := c.breaker.Execute(func() (interface{}, error) {
			return c.base.Generate(ctx, messages, tools)
		})
		if err == nil {
			if attempt > 0 {
				c.logger.Infof("llm request succeeded after %d retries", attempt)
			}
			return result.(*domain.GenerateResult), nil
		}
		lastErr = err

		// 熔断打开时重试无意义
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("circuit breaker open, not retrying")
			return nil, err
		}
		if !isRetryable(err) {
			return nil, err
		}
		if attempt == attempts-1 {
			break
		}

		backoff := c.backoff(attempt)
		c.logger.Infof("llm request failed (attempt %d/%d), retrying after %v: %v",
			attempt+1, attempts, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("llm request failed after %d attempts: %w", attempts, lastErr)
}

// backoff 指数退避 + jitter
func (c *ResilientLLMClient) backoff(attempt int) time.Duration {
	multiplier := c.retry.Multiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	interval := float64(c.retry.InitialInterval) * math.Pow(multiplier, float64(attempt))
	if interval > float64(c.retry.MaxInterval) {
		interval = float64(c.retry.MaxInterval)
	}
	interval += (rand.Float64()*2 - 1) * interval * 0.1
	return time.Duration(interval)
}

// isRetryable 瞬时错误才重试
func isRetryable(err error) bool {
	msg := err.Error()
	for _, s := range []string{"timeout", "temporary", "connection refused", "EOF", "broken pipe", "503", "502"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// BreakerState 熔断器状态（管理接口用）
func (c *ResilientLLMClient) BreakerState() gobreaker.State {
	return c.breaker.State()
}

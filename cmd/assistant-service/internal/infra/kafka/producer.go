package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chainassistant/cmd/assistant-service/internal/conf"
	"chainassistant/cmd/assistant-service/internal/domain"

	"github.com/go-kratos/kratos/v2/log"
	kafkago "github.com/segmentio/kafka-go"
)

// TurnEventPublisher 轮次完成事件发布器
// Brokers 未配置时 Enabled 为假，发布为空操作
type TurnEventPublisher struct {
	writer *kafkago.Writer
	topic  string
	logger *log.Helper
}

// NewTurnEventPublisher 创建事件发布器
func NewTurnEventPublisher(cfg conf.KafkaConfig, logger log.Logger) *TurnEventPublisher {
	helper := log.NewHelper(log.With(logger, "module", "infra/kafka"))

	p := &TurnEventPublisher{topic: cfg.Topic, logger: helper}
	if len(cfg.Brokers) == 0 {
		helper.Info("event publisher: disabled (no brokers configured)")
		return p
	}

	p.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafkago.Hash{},
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafkago.RequireOne,
		Async:        false,
	}
	helper.Infof("event publisher: kafka topic %s", cfg.Topic)
	return p
}

// Enabled 能力开关
func (p *TurnEventPublisher) Enabled() bool {
	return p.writer != nil
}

// turnCompletedEvent 事件线格式
type turnCompletedEvent struct {
	EventType      string               `json:"event_type"`
	ConversationID string               `json:"conversation_id"`
	UserID         string               `json:"user_id"`
	Intent         domain.Intent        `json:"intent"`
	FallbackLevel  domain.FallbackLevel `json:"fallback_level"`
	ToolsUsed      []string             `json:"tools_used,omitempty"`
	LatencyMS      int64                `json:"latency_ms"`
	Timestamp      time.Time            `json:"timestamp"`
}

// PublishTurnCompleted 发布一条轮次完成事件，按会话 ID 分区
func (p *TurnEventPublisher) PublishTurnCompleted(ctx context.Context, event *domain.TurnEvent) error {
	if !p.Enabled() {
		return nil
	}

	payload, err := json.Marshal(&turnCompletedEvent{
		EventType:      "turn.completed",
		ConversationID: event.ConversationID,
		UserID:         event.UserID,
		Intent:         event.Intent,
		FallbackLevel:  event.FallbackLevel,
		ToolsUsed:      event.ToolsUsed,
		LatencyMS:      event.LatencyMS,
		Timestamp:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(event.ConversationID),
		Value: payload,
	}); err != nil {
		return fmt.Errorf("failed to publish turn event: %w", err)
	}
	return nil
}

// Close 关闭发布器
func (p *TurnEventPublisher) Close() error {
	if p.writer != nil {
		return p.writer.Close()
	}
	return nil
}

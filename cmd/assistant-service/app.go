package main

import (
	"fmt"

	"chainassistant/cmd/assistant-service/internal/biz"
	"chainassistant/cmd/assistant-service/internal/conf"
	"chainassistant/cmd/assistant-service/internal/data"
	"chainassistant/cmd/assistant-service/internal/infra"
	"chainassistant/cmd/assistant-service/internal/infra/kafka"
	"chainassistant/cmd/assistant-service/internal/server"
	"chainassistant/cmd/assistant-service/internal/service"

	kratoslog "github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
)

// App 组装完成的应用
type App struct {
	HTTPServer *server.HTTPServer
}

// initApp 手工装配各层依赖
func initApp(config *conf.Config, zlogger *zap.Logger) (*App, func(), error) {
	klogger := newZapKratosLogger(zlogger)

	// Infra 层
	embedder := infra.NewHTTPEmbedder(config.Embedding, klogger)
	llmBase := infra.NewLLMClient(config.LLM, klogger)
	llm := infra.NewResilientLLMClient(llmBase, config.Resilience, klogger)
	toolClient := infra.NewToolClient(config.ToolService, klogger)
	publisher := kafka.NewTurnEventPublisher(config.Kafka, klogger)

	// Data 层
	d, dataCleanup, err := data.NewData(config, embedder, klogger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize data layer: %w", err)
	}

	// Biz 层
	contexts := biz.NewContextCacheUsecase(d.TTLStore, config.Cache.ContextTTL, klogger)
	toolCache := biz.NewToolResultCache(d.TTLStore, klogger)
	tristore := biz.NewTriStoreWriter(d.TTLStore, d.Vector, d.Graph, config.Cache.EntryTTL, klogger)
	failsafe := biz.NewFailsafeResolver(klogger)
	turns := biz.NewTurnUsecase(contexts, toolCache, tristore, failsafe, llm, toolClient, publisher, klogger)

	// Service 层
	svc := service.NewAssistantService(turns, contexts, failsafe, d.TTLStore, klogger)

	// Server 层
	httpServer := server.NewHTTPServer(svc, zlogger)

	cleanup := func() {
		_ = publisher.Close()
		dataCleanup()
	}
	return &App{HTTPServer: httpServer}, cleanup, nil
}

// zapKratosLogger zap 到 kratos 日志接口的适配
type zapKratosLogger struct {
	base *zap.SugaredLogger
}

func newZapKratosLogger(logger *zap.Logger) kratoslog.Logger {
	return &zapKratosLogger{base: logger.WithOptions(zap.AddCallerSkip(2)).Sugar()}
}

// Log 实现 kratos log.Logger
func (l *zapKratosLogger) Log(level kratoslog.Level, keyvals ...interface{}) error {
	var msg interface{}
	fields := make([]interface{}, 0, len(keyvals))
	for i := 0; i+1 < len(keyvals); i += 2 {
		if keyvals[i] == kratoslog.DefaultMessageKey {
			msg = keyvals[i+1]
			continue
		}
		fields = append(fields, keyvals[i], keyvals[i+1])
	}

	switch level {
	case kratoslog.LevelDebug:
		l.base.Debugw(fmt.Sprint(msg), fields...)
	case kratoslog.LevelWarn:
		l.base.Warnw(fmt.Sprint(msg), fields...)
	case kratoslog.LevelError, kratoslog.LevelFatal:
		l.base.Errorw(fmt.Sprint(msg), fields...)
	default:
		l.base.Infow(fmt.Sprint(msg), fields...)
	}
	return nil
}

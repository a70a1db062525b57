package conf

import (
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Neo4j         Neo4jConfig         `mapstructure:"neo4j"`
	Milvus        MilvusConfig        `mapstructure:"milvus"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	LLM           LLMConfig           `mapstructure:"llm"`
	ToolService   ToolServiceConfig   `mapstructure:"tool_service"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Resilience    ResilienceConfig    `mapstructure:"resilience"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
}

// RedisConfig Redis 配置，Addr 为空时使用进程内存储
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// Neo4jConfig Neo4j 配置，URI 为空时图存储停用
type Neo4jConfig struct {
	URI      string        `mapstructure:"uri"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// MilvusConfig Milvus 配置，Addr 为空时向量存储停用
type MilvusConfig struct {
	Addr       string        `mapstructure:"addr"`
	Collection string        `mapstructure:"collection"`
	Dim        int           `mapstructure:"dim"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// KafkaConfig Kafka 配置，Brokers 为空时事件发布停用
type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LLMConfig 生成模型服务配置
type LLMConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ToolServiceConfig 工具调用服务配置
type ToolServiceConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// EmbeddingConfig 向量化服务配置，BaseURL 为空时停用
type EmbeddingConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// CacheConfig 缓存 TTL 配置
type CacheConfig struct {
	ContextTTL time.Duration `mapstructure:"context_ttl"`
	EntryTTL   time.Duration `mapstructure:"entry_ttl"`
}

// ResilienceConfig LLM 客户端弹性配置
type ResilienceConfig struct {
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Retry          RetryConfig          `mapstructure:"retry"`
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	MaxRequests uint32        `mapstructure:"max_requests"`
	Interval    time.Duration `mapstructure:"interval"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Threshold   float64       `mapstructure:"threshold"`
	MinRequests uint32        `mapstructure:"min_requests"`
}

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	Environment    string `mapstructure:"environment"`
	LogLevel       string `mapstructure:"log_level"`
}

// Load 加载配置：文件 + ASSISTANT_ 前缀环境变量覆盖
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("ASSISTANT")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults 配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "60s")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "2s")
	v.SetDefault("redis.write_timeout", "2s")
	v.SetDefault("redis.key_prefix", "assistant")

	v.SetDefault("neo4j.timeout", "3s")

	v.SetDefault("milvus.collection", "assistant_context")
	v.SetDefault("milvus.dim", 768)
	v.SetDefault("milvus.timeout", "3s")

	v.SetDefault("kafka.topic", "assistant.turn.completed")
	v.SetDefault("kafka.write_timeout", "2s")

	v.SetDefault("llm.timeout", "60s")
	v.SetDefault("tool_service.timeout", "30s")
	v.SetDefault("embedding.timeout", "10s")

	v.SetDefault("cache.context_ttl", "30m")
	v.SetDefault("cache.entry_ttl", "24h")

	v.SetDefault("resilience.circuit_breaker.max_requests", 3)
	v.SetDefault("resilience.circuit_breaker.interval", "10s")
	v.SetDefault("resilience.circuit_breaker.timeout", "30s")
	v.SetDefault("resilience.circuit_breaker.threshold", 0.5)
	v.SetDefault("resilience.circuit_breaker.min_requests", 3)
	v.SetDefault("resilience.retry.max_attempts", 3)
	v.SetDefault("resilience.retry.initial_interval", "100ms")
	v.SetDefault("resilience.retry.max_interval", "10s")
	v.SetDefault("resilience.retry.multiplier", 2.0)

	v.SetDefault("observability.service_name", "assistant-service")
	v.SetDefault("observability.service_version", "dev")
	v.SetDefault("observability.environment", "development")
	v.SetDefault("observability.log_level", "info")
}

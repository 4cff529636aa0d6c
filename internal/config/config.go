package config

import (
	"time"

	"omni/pkg/cel"
)

type Config struct {
	Server         ServerConfig
	Logging        LoggingConfig
	Gateway        GatewayConfig
	Channels       ChannelsConfig
	Streams        StreamsConfig
	Publisher      PublisherConfig
	Transport      TransportConfig
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
	Monitoring     MonitoringConfig
	Tracing        TracingConfig
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type GatewayConfig struct {
	// AuthTokens are accepted bearer tokens. Empty disables auth.
	AuthTokens   []string        `mapstructure:"auth_tokens"`
	MaxBodyBytes int64           `mapstructure:"max_body_bytes"`
	RateLimit    RateLimitConfig `mapstructure:"rate_limit"`
}

type RateLimitConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	RPS             float64 `mapstructure:"rps"`
	Burst           int     `mapstructure:"burst"`
	CleanupInterval int     `mapstructure:"cleanup_interval"`
	MaxAge          int     `mapstructure:"max_age"`
}

type ChannelsConfig struct {
	// Enabled restricts the allow-list. Empty keeps every built-in channel.
	Enabled []string              `mapstructure:"enabled"`
	Rules   map[string][]cel.Rule `mapstructure:"rules"`
}

type StreamsConfig struct {
	Inbound  string `mapstructure:"inbound"`
	Outbound string `mapstructure:"outbound"`
}

type PublisherConfig struct {
	Retry          RetryConfig   `mapstructure:"retry"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout"`
}

type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts"`
	InitialInterval     time.Duration `mapstructure:"initial_interval"`
	MaxInterval         time.Duration `mapstructure:"max_interval"`
	Multiplier          float64       `mapstructure:"multiplier"`
	RandomizationFactor float64       `mapstructure:"randomization_factor"`
	MaxElapsedTime      time.Duration `mapstructure:"max_elapsed_time"`
}

type TransportConfig struct {
	Type     string         `mapstructure:"type"`
	DedupTTL time.Duration  `mapstructure:"dedup_ttl"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	MongoDB  MongoDBConfig  `mapstructure:"mongodb"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// MaxLen caps each stream with XADD MAXLEN ~. Zero keeps everything.
	MaxLen int64 `mapstructure:"max_len"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers"`
	Dedup        string        `mapstructure:"dedup"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

type PostgresConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	DBName        string `mapstructure:"dbname"`
	SSLMode       string `mapstructure:"sslmode"`
	RunMigrations bool   `mapstructure:"run_migrations"`
}

type MongoDBConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

type CircuitBreakerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxRequests  uint32        `mapstructure:"max_requests"`
	Interval     time.Duration `mapstructure:"interval"`
	Timeout      time.Duration `mapstructure:"timeout"`
	FailureRatio float64       `mapstructure:"failure_ratio"`
	MinRequests  uint32        `mapstructure:"min_requests"`
}

type MonitoringConfig struct {
	MaxSamples       int           `mapstructure:"max_samples"`
	MaxEvents        int           `mapstructure:"max_events"`
	CounterRetention time.Duration `mapstructure:"counter_retention"`
	// ResetCron clears the registry when due, e.g. "0 0 * * *". Empty disables rotation.
	ResetCron string        `mapstructure:"reset_cron"`
	Window    time.Duration `mapstructure:"window"`
}

type TracingConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ServiceName string        `mapstructure:"service_name"`
	Environment string        `mapstructure:"environment"`
	OTLP        OTLPConfig    `mapstructure:"otlp"`
	Sampler     SamplerConfig `mapstructure:"sampler"`
}

type OTLPConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type SamplerConfig struct {
	Type  string  `mapstructure:"type"`
	Param float64 `mapstructure:"param"`
}

func Load(configFile string) (*Config, error) {
	return LoadConfig(configFile)
}

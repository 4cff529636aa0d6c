package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

func LoadConfig(configFile string) (*Config, error) {
	viper.Reset()

	viper.SetConfigType("yaml")
	viper.SetConfigFile(configFile)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()
	bindEnvVariables()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 10*time.Second)
	viper.SetDefault("server.write_timeout", 10*time.Second)
	viper.SetDefault("server.shutdown_timeout", 15*time.Second)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("gateway.max_body_bytes", 1<<20)

	viper.SetDefault("streams.inbound", "omni.messages")
	viper.SetDefault("streams.outbound", "omni.outbound")

	viper.SetDefault("publisher.retry.max_attempts", 3)
	viper.SetDefault("publisher.retry.initial_interval", 100*time.Millisecond)
	viper.SetDefault("publisher.retry.max_interval", 2*time.Second)
	viper.SetDefault("publisher.retry.multiplier", 2.0)
	viper.SetDefault("publisher.attempt_timeout", 5*time.Second)

	viper.SetDefault("transport.type", "memory")
	viper.SetDefault("transport.dedup_ttl", 24*time.Hour)
	viper.SetDefault("transport.kafka.dedup", "memory")
	viper.SetDefault("transport.mongodb.collection", "omni_messages")

	viper.SetDefault("monitoring.max_samples", 10000)
	viper.SetDefault("monitoring.max_events", 100000)
	viper.SetDefault("monitoring.counter_retention", time.Hour)
	viper.SetDefault("monitoring.window", time.Minute)
}

func bindEnvVariables() {
	viper.BindEnv("server.port", "SERVER_PORT")

	viper.BindEnv("logging.level", "LOGGING_LEVEL")
	viper.BindEnv("logging.format", "LOGGING_FORMAT")

	viper.BindEnv("transport.type", "TRANSPORT_TYPE")

	viper.BindEnv("transport.redis.host", "TRANSPORT_REDIS_HOST")
	viper.BindEnv("transport.redis.port", "TRANSPORT_REDIS_PORT")
	viper.BindEnv("transport.redis.password", "TRANSPORT_REDIS_PASSWORD")
	viper.BindEnv("transport.redis.db", "TRANSPORT_REDIS_DB")

	viper.BindEnv("transport.postgres.host", "TRANSPORT_POSTGRES_HOST")
	viper.BindEnv("transport.postgres.port", "TRANSPORT_POSTGRES_PORT")
	viper.BindEnv("transport.postgres.user", "TRANSPORT_POSTGRES_USER")
	viper.BindEnv("transport.postgres.password", "TRANSPORT_POSTGRES_PASSWORD")
	viper.BindEnv("transport.postgres.dbname", "TRANSPORT_POSTGRES_DBNAME")
	viper.BindEnv("transport.postgres.sslmode", "TRANSPORT_POSTGRES_SSLMODE")

	viper.BindEnv("transport.mongodb.uri", "TRANSPORT_MONGODB_URI")
	viper.BindEnv("transport.mongodb.database", "TRANSPORT_MONGODB_DATABASE")

	viper.BindEnv("tracing.otlp.endpoint", "TRACING_OTLP_ENDPOINT")
	viper.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
	viper.BindEnv("tracing.enabled", "TRACING_ENABLED")
	viper.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	viper.BindEnv("tracing.environment", "TRACING_ENVIRONMENT")
}

// applyEnvOverrides handles list-valued variables that viper does not split.
func applyEnvOverrides(cfg *Config) error {
	if brokers := splitList(viper.GetString("TRANSPORT_KAFKA_BROKERS")); len(brokers) > 0 {
		cfg.Transport.Kafka.Brokers = brokers
	}

	if tokens := splitList(viper.GetString("GATEWAY_AUTH_TOKENS")); len(tokens) > 0 {
		cfg.Gateway.AuthTokens = tokens
	}

	if channels := splitList(viper.GetString("CHANNELS_ENABLED")); len(channels) > 0 {
		cfg.Channels.Enabled = channels
	}

	return nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

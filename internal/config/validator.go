package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/adhocore/gronx"

	"omni/pkg/models"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

var knownChannels = map[string]bool{
	string(models.ChannelWhatsApp): true,
	string(models.ChannelEmail):    true,
	string(models.ChannelSMS):      true,
	string(models.ChannelWeb):      true,
	string(models.ChannelSlack):    true,
	string(models.ChannelTelegram): true,
	string(models.ChannelDiscord):  true,
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateGateway(c.Gateway) },
		func(c *Config) error { return validateChannels(c.Channels) },
		func(c *Config) error { return validateStreams(c.Streams) },
		func(c *Config) error { return validatePublisher(c.Publisher) },
		func(c *Config) error { return validateTransport(c.Transport) },
		func(c *Config) error { return validateMonitoring(c.Monitoring) },
	}
	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeout <= 0 {
		return &ValidationError{Field: "server.read_timeout", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeout <= 0 {
		return &ValidationError{Field: "server.write_timeout", Message: "write timeout must be positive"}
	}

	return nil
}

func validateGateway(cfg GatewayConfig) error {
	for i, token := range cfg.AuthTokens {
		if strings.TrimSpace(token) == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("gateway.auth_tokens[%d]", i),
				Message: "token cannot be empty",
			}
		}
	}

	if cfg.MaxBodyBytes < 0 {
		return &ValidationError{Field: "gateway.max_body_bytes", Message: "must be non-negative"}
	}

	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.RPS <= 0 {
			return &ValidationError{Field: "gateway.rate_limit.rps", Message: "rps must be positive when rate limiting is enabled"}
		}
		if cfg.RateLimit.Burst <= 0 {
			return &ValidationError{Field: "gateway.rate_limit.burst", Message: "burst must be positive when rate limiting is enabled"}
		}
	}

	return nil
}

func validateChannels(cfg ChannelsConfig) error {
	for i, ch := range cfg.Enabled {
		if !knownChannels[strings.ToLower(ch)] {
			return &ValidationError{
				Field:   fmt.Sprintf("channels.enabled[%d]", i),
				Message: fmt.Sprintf("unknown channel: %s", ch),
			}
		}
	}

	for ch, rules := range cfg.Rules {
		if !knownChannels[strings.ToLower(ch)] {
			return &ValidationError{
				Field:   "channels.rules." + ch,
				Message: fmt.Sprintf("unknown channel: %s", ch),
			}
		}
		for i, rule := range rules {
			if strings.TrimSpace(rule.Expression) == "" {
				return &ValidationError{
					Field:   fmt.Sprintf("channels.rules.%s[%d].expression", ch, i),
					Message: "expression is required",
				}
			}
		}
	}

	return nil
}

func validateStreams(cfg StreamsConfig) error {
	if strings.TrimSpace(cfg.Inbound) == "" {
		return &ValidationError{Field: "streams.inbound", Message: "inbound stream key is required"}
	}
	if strings.TrimSpace(cfg.Outbound) == "" {
		return &ValidationError{Field: "streams.outbound", Message: "outbound stream key is required"}
	}
	return nil
}

func validatePublisher(cfg PublisherConfig) error {
	if cfg.AttemptTimeout < 0 {
		return &ValidationError{Field: "publisher.attempt_timeout", Message: "attempt_timeout must be non-negative"}
	}

	r := cfg.Retry
	if r.MaxAttempts < 0 {
		return &ValidationError{Field: "publisher.retry.max_attempts", Message: "max_attempts must be non-negative"}
	}

	if r.InitialInterval < 0 {
		return &ValidationError{Field: "publisher.retry.initial_interval", Message: "initial_interval must be non-negative"}
	}

	if r.MaxInterval < 0 {
		return &ValidationError{Field: "publisher.retry.max_interval", Message: "max_interval must be non-negative"}
	}

	if r.MaxInterval > 0 && r.InitialInterval > 0 && r.MaxInterval < r.InitialInterval {
		return &ValidationError{
			Field:   "publisher.retry.max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if r.Multiplier < 0 {
		return &ValidationError{Field: "publisher.retry.multiplier", Message: "multiplier must be non-negative"}
	}

	if r.RandomizationFactor < 0 || r.RandomizationFactor > 1 {
		return &ValidationError{Field: "publisher.retry.randomization_factor", Message: "randomization_factor must be within [0, 1]"}
	}

	return nil
}

func validateTransport(cfg TransportConfig) error {
	if cfg.DedupTTL < 0 {
		return &ValidationError{Field: "transport.dedup_ttl", Message: "dedup_ttl must be non-negative"}
	}

	switch cfg.Type {
	case "memory":
		return nil
	case "redis":
		return validateRedis("transport.redis", cfg.Redis)
	case "kafka":
		return validateKafka(cfg)
	case "postgres":
		return validatePostgres(cfg.Postgres)
	case "mongodb":
		return validateMongoDB(cfg.MongoDB)
	case "":
		return &ValidationError{Field: "transport.type", Message: "transport type is required"}
	default:
		return &ValidationError{
			Field:   "transport.type",
			Message: fmt.Sprintf("unknown transport type: %s (supported: memory, redis, kafka, postgres, mongodb)", cfg.Type),
		}
	}
}

func validateRedis(field string, cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: field + ".host", Message: "Redis host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   field + ".port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.MaxLen < 0 {
		return &ValidationError{Field: field + ".max_len", Message: "max_len must be non-negative"}
	}

	return nil
}

func validateKafka(cfg TransportConfig) error {
	if len(cfg.Kafka.Brokers) == 0 {
		return &ValidationError{Field: "transport.kafka.brokers", Message: "at least one Kafka broker is required"}
	}

	for i, broker := range cfg.Kafka.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("transport.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	switch cfg.Kafka.Dedup {
	case "", "memory":
	case "redis":
		return validateRedis("transport.redis", cfg.Redis)
	default:
		return &ValidationError{
			Field:   "transport.kafka.dedup",
			Message: fmt.Sprintf("unknown dedup store: %s (supported: memory, redis)", cfg.Kafka.Dedup),
		}
	}

	return nil
}

func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "transport.postgres.host", Message: "PostgreSQL host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "transport.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "transport.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "transport.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "transport.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s (valid: disable, allow, prefer, require, verify-ca, verify-full)", cfg.SSLMode),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if cfg.URI == "" {
		return &ValidationError{Field: "transport.mongodb.uri", Message: "MongoDB URI is required"}
	}

	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "transport.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{Field: "transport.mongodb.database", Message: "MongoDB database name is required"}
	}

	return nil
}

func validateMonitoring(cfg MonitoringConfig) error {
	if cfg.MaxSamples < 0 {
		return &ValidationError{Field: "monitoring.max_samples", Message: "max_samples must be non-negative"}
	}

	if cfg.MaxEvents < 0 {
		return &ValidationError{Field: "monitoring.max_events", Message: "max_events must be non-negative"}
	}

	if cfg.CounterRetention < 0 {
		return &ValidationError{Field: "monitoring.counter_retention", Message: "counter_retention must be non-negative"}
	}

	if cfg.Window < 0 {
		return &ValidationError{Field: "monitoring.window", Message: "window must be non-negative"}
	}

	if cfg.ResetCron != "" && !gronx.New().IsValid(cfg.ResetCron) {
		return &ValidationError{
			Field:   "monitoring.reset_cron",
			Message: fmt.Sprintf("invalid cron expression: %s", cfg.ResetCron),
		}
	}

	return nil
}

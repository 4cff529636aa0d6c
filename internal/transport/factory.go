package transport

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"omni/internal/config"
	"omni/pkg/migrations"
)

// Clients carries the connections a transport type needs. Only the one
// matching the configured type (plus Redis for kafka dedup) is used.
type Clients struct {
	Redis    redis.UniversalClient
	Postgres *sql.DB
	Mongo    *mongo.Client
	// KafkaWriter overrides the writer built from config, mainly for tests.
	KafkaWriter MessageWriter
}

// NewTransport builds the configured transport and wraps it in a circuit
// breaker when one is enabled.
func NewTransport(ctx context.Context, cfg config.TransportConfig, cbCfg config.CircuitBreakerConfig, clients Clients) (Transport, error) {
	var (
		t   Transport
		err error
	)

	switch cfg.Type {
	case "", "memory":
		t = NewMemory()
	case "redis":
		if clients.Redis == nil {
			return nil, fmt.Errorf("redis transport requires a redis client")
		}
		t = NewRedisStreams(clients.Redis, RedisOptions{
			DedupTTL: cfg.DedupTTL,
			MaxLen:   cfg.Redis.MaxLen,
		})
	case "kafka":
		t, err = newKafkaFromConfig(cfg, clients)
	case "postgres":
		if clients.Postgres == nil {
			return nil, fmt.Errorf("postgres transport requires a database handle")
		}
		if cfg.Postgres.RunMigrations {
			if err := RunMigrations(clients.Postgres); err != nil {
				return nil, err
			}
		}
		t = NewPostgres(clients.Postgres)
	case "mongodb":
		if clients.Mongo == nil {
			return nil, fmt.Errorf("mongodb transport requires a client")
		}
		coll, cerr := migrations.EnsureMessageCollection(ctx, clients.Mongo.Database(cfg.MongoDB.Database), cfg.MongoDB.Collection)
		if cerr != nil {
			return nil, cerr
		}
		t = NewMongoDB(clients.Mongo, coll)
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	if cbCfg.Enabled {
		t = NewCircuitBreakerTransport(t, cbCfg)
	}
	return t, nil
}

func newKafkaFromConfig(cfg config.TransportConfig, clients Clients) (Transport, error) {
	var dedup DedupStore
	switch cfg.Kafka.Dedup {
	case "redis":
		if clients.Redis == nil {
			return nil, fmt.Errorf("kafka redis dedup requires a redis client")
		}
		dedup = NewRedisDedupStore(clients.Redis)
	default:
		dedup = NewMemoryDedupStore()
	}

	writer := clients.KafkaWriter
	if writer == nil {
		writer = NewKafkaWriter(KafkaOptions{
			Brokers:      cfg.Kafka.Brokers,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			RequiredAcks: cfg.Kafka.RequiredAcks,
		})
	}
	return NewKafka(writer, dedup, cfg.DedupTTL), nil
}

package bootstrap

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/internal/transport"
)

// DatabaseConnector opens the connections the configured transport needs.
type DatabaseConnector struct {
	Config *config.Config
	Logger logger.Logger
}

func NewDatabaseConnector(cfg *config.Config, log logger.Logger) *DatabaseConnector {
	return &DatabaseConnector{
		Config: cfg,
		Logger: log,
	}
}

// Connect returns the clients required by transport.type.
func (dc *DatabaseConnector) Connect(ctx context.Context) (transport.Clients, error) {
	var clients transport.Clients
	tc := dc.Config.Transport

	needRedis := tc.Type == "redis" || (tc.Type == "kafka" && tc.Kafka.Dedup == "redis")
	if needRedis {
		rdb, err := dc.InitRedis(ctx)
		if err != nil {
			return clients, err
		}
		clients.Redis = rdb
	}

	switch tc.Type {
	case "postgres":
		db, err := dc.InitPostgreSQL(ctx)
		if err != nil {
			dc.Shutdown(ctx, clients)
			return transport.Clients{}, err
		}
		clients.Postgres = db
	case "mongodb":
		client, err := dc.InitMongoDB(ctx)
		if err != nil {
			dc.Shutdown(ctx, clients)
			return transport.Clients{}, err
		}
		clients.Mongo = client
	}

	return clients, nil
}

func (dc *DatabaseConnector) InitRedis(ctx context.Context) (*redis.Client, error) {
	cfg := dc.Config.Transport.Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	dc.Logger.Info("Redis connected successfully")
	return rdb, nil
}

func (dc *DatabaseConnector) InitPostgreSQL(ctx context.Context) (*sql.DB, error) {
	cfg := dc.Config.Transport.Postgres
	dsn := transport.PostgresDSN(cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	dc.Logger.Info("PostgreSQL connected successfully")
	return db, nil
}

func (dc *DatabaseConnector) InitMongoDB(ctx context.Context) (*mongo.Client, error) {
	mongoOpts := options.Client().ApplyURI(dc.Config.Transport.MongoDB.URI)
	mongoClient, err := mongo.Connect(ctx, mongoOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := mongoClient.Ping(ctx, nil); err != nil {
		mongoClient.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	dc.Logger.Info("MongoDB connected successfully")
	return mongoClient, nil
}

// Shutdown closes clients the transport does not own. The redis client used
// only for kafka dedup is one of them.
func (dc *DatabaseConnector) Shutdown(ctx context.Context, clients transport.Clients) []error {
	var errs []error

	if clients.Redis != nil && dc.Config.Transport.Type != "redis" {
		if err := clients.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	return errs
}

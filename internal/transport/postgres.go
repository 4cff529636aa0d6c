package transport

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"strconv"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"omni/pkg/metrics"
	"omni/pkg/retry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertMessageSQL = `
INSERT INTO omni_messages (stream_key, idempotency_key, payload)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (stream_key, idempotency_key)
DO UPDATE SET stream_key = EXCLUDED.stream_key
RETURNING id, (xmax <> 0) AS duplicate`

// Postgres appends rows to omni_messages. The unique constraint on
// (stream_key, idempotency_key) makes a duplicate insert return the
// original row id.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// PostgresDSN builds a lib/pq connection URL.
func PostgresDSN(host string, port int, user, password, dbName, sslMode string) string {
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", user, password, host, port, dbName, sslMode)
}

// RunMigrations applies the embedded schema migrations.
func RunMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *Postgres) Name() string {
	return "postgres"
}

func (p *Postgres) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if err := validateKeys(streamKey, idempotencyKey); err != nil {
		return "", err
	}

	var (
		id        int64
		duplicate bool
	)
	err := p.db.QueryRowContext(ctx, insertMessageSQL, streamKey, idempotencyKey, string(payload)).Scan(&id, &duplicate)
	if err != nil {
		return "", classifyPostgres(fmt.Errorf("failed to insert message: %w", err))
	}
	// xmax is set only when the conflict branch updated an existing row
	if duplicate {
		metrics.IncDedupHit(p.Name())
	}
	return strconv.FormatInt(id, 10), nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// classifyPostgres maps SQLSTATE classes: connection, resource and
// transaction-rollback failures are retried, data and integrity errors are not.
func classifyPostgres(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "40", "53", "57":
			return retry.NewRetryableError(err)
		default:
			return retry.NewFatalError(err)
		}
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return retry.NewRetryableError(err)
	}
	return Classify(err)
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/internal/transport"
)

// Base holds what every omni binary shares: config, logger and the
// transport with its connections.
type Base struct {
	Config    *config.Config
	Logger    logger.Logger
	Transport transport.Transport

	connector *DatabaseConnector
	clients   transport.Clients
}

func NewBase(cfg *config.Config, log logger.Logger) *Base {
	return &Base{
		Config:    cfg,
		Logger:    log,
		connector: NewDatabaseConnector(cfg, log),
	}
}

func (b *Base) InitTransport(ctx context.Context) error {
	clients, err := b.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect transport dependencies: %w", err)
	}

	t, err := transport.NewTransport(ctx, b.Config.Transport, b.Config.CircuitBreaker, clients)
	if err != nil {
		b.connector.Shutdown(ctx, clients)
		return fmt.Errorf("failed to create transport: %w", err)
	}

	b.Transport = t
	b.clients = clients
	b.Logger.Infow("Transport initialized", "type", t.Name(), "circuit_breaker", b.Config.CircuitBreaker.Enabled)
	return nil
}

// Clients exposes the connections opened for the transport, e.g. for health checks.
func (b *Base) Clients() transport.Clients {
	return b.clients
}

func (b *Base) ShutdownTransport(ctx context.Context) []error {
	var errs []error

	if b.Transport != nil {
		if err := b.Transport.Close(); err != nil {
			errs = append(errs, fmt.Errorf("transport close error: %w", err))
		}
	}

	errs = append(errs, b.connector.Shutdown(ctx, b.clients)...)
	return errs
}

func (b *Base) Shutdown(ctx context.Context, additionalShutdown func(ctx context.Context) []error) error {
	b.Logger.Info("Shutting down application...")

	var errs []error

	if additionalShutdown != nil {
		errs = append(errs, additionalShutdown(ctx)...)
	}

	errs = append(errs, b.ShutdownTransport(ctx)...)

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	b.Logger.Info("Application exited successfully")
	return nil
}

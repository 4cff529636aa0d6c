package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"omni/internal/config"
	"omni/internal/gateway"
	"omni/internal/logger"
	"omni/internal/mapper"
	"omni/internal/monitoring"
	"omni/internal/publisher"
	"omni/internal/transport"
	"omni/pkg/bootstrap"
	"omni/pkg/cel"
	"omni/pkg/health"
	"omni/pkg/logging"
	"omni/pkg/metrics"
	"omni/pkg/models"
	"omni/pkg/ratelimit"
	"omni/pkg/tracing"
)

type App struct {
	*bootstrap.Base

	monitor        *monitoring.Registry
	rotator        *monitoring.Rotator
	rateLimit      *ratelimit.Store
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	return &App{
		Base: bootstrap.NewBase(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	initCtx := logging.WithServiceName(ctx, serviceName)

	tp, err := tracing.Init(a.Config.Tracing, tracing.ServiceInfo{
		Name:      serviceName,
		Version:   version,
		Transport: a.Config.Transport.Type,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterGatewayMetrics()
	metrics.RegisterPublisherMetrics()
	metrics.RegisterTransportMetrics()
	metrics.RegisterCircuitBreakerMetrics()

	if err := a.InitTransport(initCtx); err != nil {
		return err
	}

	channels, err := a.initChannels()
	if err != nil {
		return fmt.Errorf("failed to initialize channels: %w", err)
	}

	if err := a.initMonitoring(); err != nil {
		return fmt.Errorf("failed to initialize monitoring: %w", err)
	}

	coercer := models.NewCoercer(channels)
	pub := publisher.New(a.Transport, a.monitor, a.Logger, publisher.ConfigFrom(a.Config.Publisher))

	handler := gateway.NewHandler(gateway.Deps{
		Mappers:      mapper.NewDefaultRegistry(coercer),
		Coercer:      coercer,
		Publisher:    pub,
		Monitor:      a.monitor,
		Streams:      a.Config.Streams,
		Window:       a.Config.Monitoring.Window,
		MaxBodyBytes: a.Config.Gateway.MaxBodyBytes,
		Logger:       a.Logger,
	})

	opts := gateway.RouterOptions{
		Logger:     a.Logger,
		AuthTokens: a.Config.Gateway.AuthTokens,
		Health:     a.healthRegistry(),
	}
	if a.Config.Tracing.Enabled {
		opts.TracingService = serviceName
	}
	if rl := a.Config.Gateway.RateLimit; rl.Enabled {
		a.rateLimit = ratelimit.NewStore(ratelimit.RateLimitConfig{
			RPS:             rl.RPS,
			Burst:           rl.Burst,
			CleanupInterval: time.Duration(rl.CleanupInterval) * time.Second,
			MaxAge:          time.Duration(rl.MaxAge) * time.Second,
		})
		opts.RateLimit = a.rateLimit
		a.Logger.InfowCtx(initCtx, "Rate limiting enabled", "rps", rl.RPS, "burst", rl.Burst)
	}

	if len(a.Config.Gateway.AuthTokens) == 0 {
		a.Logger.WarnwCtx(initCtx, "No gateway auth tokens configured, bearer authentication is disabled")
	}

	a.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      gateway.NewRouter(handler, opts),
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
	}

	a.Logger.InfowCtx(initCtx, "Gateway initialized",
		"channels", channels.Channels(),
		"inbound_stream", a.Config.Streams.Inbound,
		"outbound_stream", a.Config.Streams.Outbound,
	)
	return nil
}

// initChannels applies the configured allow-list and compiles the CEL
// outbound rules onto it.
func (a *App) initChannels() (*models.ChannelSet, error) {
	channels := models.DefaultChannels()

	if len(a.Config.Channels.Enabled) > 0 {
		enabled := make([]models.Channel, 0, len(a.Config.Channels.Enabled))
		for _, ch := range a.Config.Channels.Enabled {
			enabled = append(enabled, models.Channel(strings.ToLower(ch)))
		}
		if err := channels.Restrict(enabled); err != nil {
			return nil, err
		}
	}

	if len(a.Config.Channels.Rules) > 0 {
		evaluator, err := cel.NewEvaluator()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		if err := evaluator.Attach(channels, a.Config.Channels.Rules); err != nil {
			return nil, err
		}
	}

	return channels, nil
}

func (a *App) initMonitoring() error {
	cfg := a.Config.Monitoring
	a.monitor = monitoring.NewRegistry(monitoring.Options{
		MaxSamples:       cfg.MaxSamples,
		MaxEvents:        cfg.MaxEvents,
		CounterRetention: cfg.CounterRetention,
	})

	if cfg.ResetCron == "" {
		return nil
	}
	rotator, err := monitoring.NewRotator(a.monitor, cfg.ResetCron, a.Logger)
	if err != nil {
		return err
	}
	a.rotator = rotator
	return nil
}

func (a *App) healthRegistry() *health.CheckerRegistry {
	registry := health.NewCheckerRegistry()

	clients := a.Clients()
	if clients.Redis != nil {
		registry.Register(health.NewRedisChecker(clients.Redis))
	}
	if clients.Postgres != nil {
		registry.Register(health.NewPostgreSQLChecker(clients.Postgres))
	}
	if clients.Mongo != nil {
		registry.Register(health.NewMongoDBChecker(clients.Mongo))
	}
	if a.Config.Transport.Type == "kafka" {
		registry.Register(health.NewKafkaChecker(a.Config.Transport.Kafka.Brokers))
	}

	if p, ok := a.Transport.(transport.Pinger); ok {
		registry.Register(health.NewCheckerFunc("transport:"+a.Transport.Name(), p.Ping))
	}
	return registry
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	if a.rotator != nil {
		g.Go(func() error {
			return a.rotator.Run(gCtx)
		})
	}

	if a.rateLimit != nil {
		g.Go(func() error {
			a.rateLimit.Run(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func (a *App) Shutdown(ctx context.Context) error {
	return a.Base.Shutdown(ctx, func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		return errs
	})
}

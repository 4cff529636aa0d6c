package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/internal/monitoring"
	"omni/internal/transport"
	apperrors "omni/pkg/errors"
	"omni/pkg/logging"
	"omni/pkg/metrics"
	"omni/pkg/models"
	"omni/pkg/retry"
	"omni/pkg/tracing"
)

const DefaultAttemptTimeout = 5 * time.Second

// HistogramSuffix is appended to the stream key to name the publish latency histogram.
const HistogramSuffix = "_publish_ms"

type Config struct {
	Policy         retry.Policy
	AttemptTimeout time.Duration
}

func ConfigFrom(cfg config.PublisherConfig) Config {
	return Config{
		Policy: retry.Policy{
			MaxAttempts:         cfg.Retry.MaxAttempts,
			InitialInterval:     cfg.Retry.InitialInterval,
			MaxInterval:         cfg.Retry.MaxInterval,
			Multiplier:          cfg.Retry.Multiplier,
			RandomizationFactor: cfg.Retry.RandomizationFactor,
			MaxElapsedTime:      cfg.Retry.MaxElapsedTime,
		},
		AttemptTimeout: cfg.AttemptTimeout,
	}
}

type options struct {
	idempotencyKey string
	policy         retry.Policy
	attemptTimeout time.Duration
}

type Option func(*options)

func WithIdempotencyKey(key string) Option {
	return func(o *options) { o.idempotencyKey = key }
}

func WithPolicy(policy retry.Policy) Option {
	return func(o *options) { o.policy = policy }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(o *options) { o.attemptTimeout = d }
}

// Result describes a successful publish.
type Result struct {
	EntryID        string `json:"entry_id"`
	IdempotencyKey string `json:"idempotency_key"`
	StreamKey      string `json:"stream_key"`
	Attempts       int    `json:"attempts"`
}

// Publisher delivers envelopes to a transport at least once. Duplicates are
// suppressed by the transport through the idempotency key.
type Publisher struct {
	transport transport.Transport
	registry  *monitoring.Registry
	logger    logger.Logger
	cfg       Config
	now       func() time.Time
}

func New(t transport.Transport, registry *monitoring.Registry, log logger.Logger, cfg Config) *Publisher {
	if registry == nil {
		registry = monitoring.NewRegistry(monitoring.Options{})
	}
	if log == nil {
		log = logger.NopLogger()
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	return &Publisher{
		transport: t,
		registry:  registry,
		logger:    log,
		cfg:       cfg,
		now:       time.Now,
	}
}

// PublishWithRetry publishes env to streamKey and returns the transport entry id.
func (p *Publisher) PublishWithRetry(ctx context.Context, streamKey string, env models.Envelope, opts ...Option) (string, error) {
	res, err := p.Publish(ctx, streamKey, env, opts...)
	if err != nil {
		return "", err
	}
	return res.EntryID, nil
}

func (p *Publisher) Publish(ctx context.Context, streamKey string, env models.Envelope, opts ...Option) (Result, error) {
	start := p.now()

	o := options{policy: p.cfg.Policy, attemptTimeout: p.cfg.AttemptTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	key := IdempotencyKey(env, o.idempotencyKey)
	res := Result{IdempotencyKey: key, StreamKey: streamKey}

	ctx = logging.WithIdempotencyKey(ctx, key)
	ctx = logging.WithChannel(ctx, string(env.Channel))
	ctx = logging.WithStreamKey(ctx, streamKey)

	ctx, span := tracing.StartPublishSpan(ctx, streamKey, string(env.Channel), string(env.Direction))
	span.SetAttributes(
		tracing.AttrIdempotencyKey.String(key),
		tracing.AttrTransport.String(p.transport.Name()),
	)
	if traceID := tracing.TraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}

	if err := checkPublishable(streamKey, env); err != nil {
		tracing.EndSpan(span, err)
		return res, err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		err = apperrors.ErrInternal.WithCause(fmt.Errorf("failed to encode envelope: %w", err)).AsFatal()
		tracing.EndSpan(span, err)
		return res, err
	}

	attempts, err := retry.Do(ctx, o.policy, func(ctx context.Context, attempt int) error {
		id, err := p.attempt(ctx, o.attemptTimeout, streamKey, key, payload)
		if err != nil {
			return err
		}
		res.EntryID = id
		return nil
	}, func(attempt int, err error, nextDelay time.Duration) {
		metrics.IncPublishRetry(streamKey)
		p.logger.WarnwCtx(ctx, "Publish attempt failed, retrying",
			"attempt", attempt,
			"next_delay", nextDelay,
			"error", err,
		)
	})
	res.Attempts = attempts
	span.SetAttributes(tracing.AttrAttempts.Int(attempts))

	if err != nil {
		p.registry.Incr(monitoring.CounterPublishErrors)
		metrics.IncPublish(streamKey, "failed")

		perr := apperrors.ErrPublishFailed.
			WithCause(err).
			WithDetail("attempts", attempts).
			WithDetail("stream_key", streamKey).
			WithDetail("idempotency_key", key)
		p.logger.ErrorwCtx(ctx, "Publish failed",
			"attempts", attempts,
			"retryable", retry.IsRetryable(err),
			"error", err,
		)
		tracing.EndSpan(span, perr)
		return res, perr
	}

	elapsed := p.now().Sub(start)
	p.registry.RecordDuration(streamKey+HistogramSuffix, float64(elapsed)/float64(time.Millisecond))
	metrics.ObservePublishDuration(streamKey, elapsed)
	metrics.IncPublish(streamKey, "published")

	span.SetAttributes(tracing.AttrEntryID.String(res.EntryID))
	tracing.EndSpan(span, nil)

	p.logger.DebugwCtx(ctx, "Envelope published",
		"entry_id", res.EntryID,
		"attempts", attempts,
		"duration_ms", elapsed.Milliseconds(),
	)
	return res, nil
}

// attempt makes one bounded transport call. Panics are converted to fatal
// errors so a broken transport cannot take the request down.
func (p *Publisher) attempt(ctx context.Context, timeout time.Duration, streamKey, key string, payload []byte) (id string, err error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			id, err = "", apperrors.RecoverPanic(r)
		}
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.ObserveTransportWrite(p.transport.Name(), status, time.Since(start))
	}()

	id, err = p.transport.Publish(ctx, streamKey, key, payload)
	if err != nil {
		return "", transport.Classify(err)
	}
	return id, nil
}

func checkPublishable(streamKey string, env models.Envelope) error {
	base := apperrors.ErrOutboundInvalid
	switch {
	case models.IsInbound(env):
		base = apperrors.ErrInboundInvalid
	case models.IsOutbound(env):
	default:
		return apperrors.Invalid(base, "direction", `must be "in" or "out"`)
	}
	if strings.TrimSpace(streamKey) == "" {
		return apperrors.Invalid(base, "stream_key", "is required")
	}
	return nil
}

package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"omni/internal/logger"
	"omni/pkg/metrics"
)

// Rotator resets a Registry whenever a cron expression is due. It bounds
// counter memory for processes that never restart.
type Rotator struct {
	registry *Registry
	expr     string
	gron     *gronx.Gronx
	logger   logger.Logger
	tick     time.Duration
}

func NewRotator(registry *Registry, expr string, log logger.Logger) (*Rotator, error) {
	gron := gronx.New()
	if !gron.IsValid(expr) {
		return nil, fmt.Errorf("invalid reset cron expression: %q", expr)
	}
	if log == nil {
		log = logger.NopLogger()
	}
	return &Rotator{
		registry: registry,
		expr:     expr,
		gron:     gron,
		logger:   log,
		tick:     time.Minute,
	}, nil
}

// Run blocks until ctx is done, checking the schedule once per minute.
func (r *Rotator) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			r.CheckAt(now)
		}
	}
}

// CheckAt resets the registry if the schedule is due at t and reports whether it did.
func (r *Rotator) CheckAt(t time.Time) bool {
	due, err := r.gron.IsDue(r.expr, t.Truncate(time.Minute))
	if err != nil {
		r.logger.Warnw("Failed to evaluate monitoring reset schedule", "error", err, "expr", r.expr)
		return false
	}
	if !due {
		return false
	}
	r.registry.Reset()
	metrics.MonitoringResetsTotal.Inc()
	r.logger.Infow("Monitoring registry reset", "expr", r.expr)
	return true
}

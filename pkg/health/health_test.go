package health

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{
			name: "no checkers",
			want: StatusHealthy,
		},
		{
			name: "all healthy",
			checkers: []Checker{
				NewCheckerFunc("transport", func(context.Context) error { return nil }),
			},
			want: StatusHealthy,
		},
		{
			name: "degraded wins over healthy",
			checkers: []Checker{
				NewCheckerFunc("a", func(context.Context) error { return nil }),
				NewCheckerFunc("b", func(context.Context) error { return fmt.Errorf("circuit open: %w", ErrDegraded) }),
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins over degraded",
			checkers: []Checker{
				NewCheckerFunc("a", func(context.Context) error { return ErrDegraded }),
				NewCheckerFunc("b", func(context.Context) error { return errors.New("down") }),
			},
			want: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestCheckerFuncAppliesTimeout(t *testing.T) {
	c := NewCheckerFunc("deadline", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		if !ok {
			return errors.New("no deadline")
		}
		return nil
	})
	assert.NoError(t, c.Check(context.Background()))
	assert.Equal(t, "deadline", c.Name())
}

func TestKafkaCheckerWithoutBrokers(t *testing.T) {
	err := NewKafkaChecker(nil).Check(context.Background())
	assert.Error(t, err)
}

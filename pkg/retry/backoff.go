package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ExponentialBackoff builds the delay schedule for a policy. MaxElapsedTime of
// zero means only the attempt counter bounds the loop.
func ExponentialBackoff(policy Policy) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = policy.InitialInterval
	exp.MaxInterval = policy.MaxInterval
	exp.Multiplier = policy.Multiplier
	exp.RandomizationFactor = policy.RandomizationFactor
	exp.MaxElapsedTime = policy.MaxElapsedTime
	exp.Reset()
	return exp
}

// Schedule returns the delays that would be awaited between attempts, ignoring
// MaxElapsedTime. Only meaningful without jitter.
func Schedule(policy Policy) []time.Duration {
	policy = policy.normalize()
	policy.MaxElapsedTime = 0
	b := ExponentialBackoff(policy)

	delays := make([]time.Duration, 0, policy.MaxAttempts-1)
	for i := 1; i < policy.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

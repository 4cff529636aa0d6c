package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"omni/pkg/retry"
)

const (
	// dedupPendingValue marks a claim whose append has not finished yet.
	dedupPendingValue = "pending"

	defaultPendingWait = time.Second
	pendingTTLFactor   = 10
)

// DedupStore remembers which idempotency keys were already appended.
//
// A publisher claims a key with dedupPendingValue, appends, then commits the
// entry id. Duplicates that find the pending marker wait for the commit.
type DedupStore interface {
	// Claim records key with value unless it is already present. It returns the
	// stored value and whether this call created it.
	Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error)
	// Commit overwrites key with the final value.
	Commit(ctx context.Context, key, value string, ttl time.Duration) error
	// Lookup returns the stored value and whether key is present.
	Lookup(ctx context.Context, key string) (string, bool, error)
	// Release forgets key so a failed append can be retried.
	Release(ctx context.Context, key string) error
}

// pendingClaimTTL bounds how long a pending marker outlives a publisher that
// crashed between claim and commit. It never exceeds the dedup TTL.
func pendingClaimTTL(wait, dedupTTL time.Duration) time.Duration {
	if wait <= 0 {
		wait = defaultPendingWait
	}
	ttl := wait * pendingTTLFactor
	if dedupTTL > 0 && dedupTTL < ttl {
		return dedupTTL
	}
	return ttl
}

// awaitCommitted polls lookup until the claim on key holds an entry id. A
// released claim or one still pending after wait is reported as retryable.
func awaitCommitted(ctx context.Context, key string, wait time.Duration, lookup func(context.Context) (string, bool, error)) (string, error) {
	deadline := time.Now().Add(wait)
	delay := 10 * time.Millisecond

	for {
		val, ok, err := lookup(ctx)
		switch {
		case err != nil:
			return "", err
		case !ok:
			// The first publisher gave up its claim; let the caller retry and append.
			return "", retry.NewRetryableError(fmt.Errorf("idempotency claim %s released", key))
		case val != dedupPendingValue:
			return val, nil
		}

		if time.Now().After(deadline) {
			return "", retry.NewRetryableError(fmt.Errorf("publish for %s still in flight", key))
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", Classify(ctx.Err())
		case <-timer.C:
		}
		if delay < 100*time.Millisecond {
			delay *= 2
		}
	}
}

type RedisDedupStore struct {
	client redis.UniversalClient
}

func NewRedisDedupStore(client redis.UniversalClient) *RedisDedupStore {
	return &RedisDedupStore{client: client}
}

func (s *RedisDedupStore) Claim(ctx context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	claimed, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return "", false, classifyRedis(fmt.Errorf("redis SetNX failed: %w", err))
	}
	if claimed {
		return value, true, nil
	}

	existing, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// Expired between SETNX and GET; treat as a fresh claim on the next attempt.
		return "", false, Classify(fmt.Errorf("dedup key %s vanished", key))
	}
	if err != nil {
		return "", false, classifyRedis(fmt.Errorf("redis GET failed: %w", err))
	}
	return existing, false, nil
}

func (s *RedisDedupStore) Commit(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return classifyRedis(fmt.Errorf("redis SET failed: %w", err))
	}
	return nil
}

func (s *RedisDedupStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classifyRedis(fmt.Errorf("redis GET failed: %w", err))
	}
	return val, true, nil
}

func (s *RedisDedupStore) Release(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return classifyRedis(fmt.Errorf("redis DEL failed: %w", err))
	}
	return nil
}

type memoryDedupEntry struct {
	value   string
	expires time.Time
}

// MemoryDedupStore is a process-local TTL map. Expired keys are swept lazily
// on writes.
type MemoryDedupStore struct {
	mu        sync.Mutex
	entries   map[string]memoryDedupEntry
	now       func() time.Time
	lastSweep time.Time
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{
		entries: make(map[string]memoryDedupEntry),
		now:     time.Now,
	}
}

func (s *MemoryDedupStore) Claim(_ context.Context, key, value string, ttl time.Duration) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweep(now)

	if e, ok := s.entries[key]; ok && (e.expires.IsZero() || now.Before(e.expires)) {
		return e.value, false, nil
	}

	e := memoryDedupEntry{value: value}
	if ttl > 0 {
		e.expires = now.Add(ttl)
	}
	s.entries[key] = e
	return value, true, nil
}

func (s *MemoryDedupStore) Commit(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryDedupEntry{value: value}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

func (s *MemoryDedupStore) Lookup(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || (!e.expires.IsZero() && !s.now().Before(e.expires)) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (s *MemoryDedupStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryDedupStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryDedupStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < time.Minute {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if !e.expires.IsZero() && !now.Before(e.expires) {
			delete(s.entries, k)
		}
	}
}

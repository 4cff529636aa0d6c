package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"omni/pkg/metrics"
	"omni/pkg/retry"
)

const redisDedupPrefix = "omni:idem:"

type RedisOptions struct {
	// DedupTTL bounds how long an idempotency key is remembered. Zero keeps it forever.
	DedupTTL time.Duration
	// MaxLen trims each stream approximately to this many entries. Zero disables trimming.
	MaxLen int64
	// PendingWait is how long a duplicate waits for a concurrent first publish.
	// The pending marker itself expires after a multiple of it.
	PendingWait time.Duration
}

// RedisStreams appends to Redis streams with XADD. Idempotency is enforced
// with a SET NX key per (stream, idempotency key) that holds a short-lived
// pending marker during XADD and the entry id afterwards.
type RedisStreams struct {
	client redis.UniversalClient
	opts   RedisOptions
}

func NewRedisStreams(client redis.UniversalClient, opts RedisOptions) *RedisStreams {
	if opts.PendingWait <= 0 {
		opts.PendingWait = defaultPendingWait
	}
	return &RedisStreams{client: client, opts: opts}
}

func (r *RedisStreams) Name() string {
	return "redis"
}

func (r *RedisStreams) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if err := validateKeys(streamKey, idempotencyKey); err != nil {
		return "", err
	}

	key := RedisDedupKey(streamKey, idempotencyKey)

	claimed, err := r.client.SetNX(ctx, key, dedupPendingValue, pendingClaimTTL(r.opts.PendingWait, r.opts.DedupTTL)).Result()
	if err != nil {
		return "", classifyRedis(fmt.Errorf("redis SetNX failed: %w", err))
	}
	if !claimed {
		metrics.IncDedupHit(r.Name())
		return r.awaitEntryID(ctx, key)
	}

	args := &redis.XAddArgs{
		Stream: streamKey,
		Values: map[string]interface{}{
			"idempotency_key": idempotencyKey,
			"envelope":        string(payload),
		},
	}
	if r.opts.MaxLen > 0 {
		args.MaxLen = r.opts.MaxLen
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		// Release the claim so a retry can append.
		r.client.Del(context.WithoutCancel(ctx), key)
		return "", classifyRedis(fmt.Errorf("redis XADD failed: %w", err))
	}

	// The entry is appended either way. A failed id write leaves the pending
	// marker to expire on its own TTL.
	if err := r.client.Set(context.WithoutCancel(ctx), key, id, r.opts.DedupTTL).Err(); err != nil {
		metrics.IncDedupCommitFailure(r.Name())
	}
	return id, nil
}

// awaitEntryID waits for the first publisher to store its id under key.
func (r *RedisStreams) awaitEntryID(ctx context.Context, key string) (string, error) {
	return awaitCommitted(ctx, key, r.opts.PendingWait, func(ctx context.Context) (string, bool, error) {
		val, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		if err != nil {
			return "", false, classifyRedis(fmt.Errorf("redis GET failed: %w", err))
		}
		return val, true, nil
	})
}

func (r *RedisStreams) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStreams) Close() error {
	return r.client.Close()
}

// RedisDedupKey is "omni:idem:{<stream>}:<key>". The hash tag keeps the
// dedup key in the same cluster slot as the stream.
func RedisDedupKey(streamKey, idempotencyKey string) string {
	return redisDedupPrefix + "{" + streamKey + "}:" + idempotencyKey
}

// classifyRedis treats server replies (WRONGTYPE, OOM, NOSCRIPT...) as fatal
// and everything else through Classify.
func classifyRedis(err error) error {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		if isTransientRedisReply(redisErr.Error()) {
			return retry.NewRetryableError(err)
		}
		return retry.NewFatalError(err)
	}
	return Classify(err)
}

var transientRedisReplies = []string{"LOADING", "READONLY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN", "BUSY"}

func isTransientRedisReply(msg string) bool {
	for _, prefix := range transientRedisReplies {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}

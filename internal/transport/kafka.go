package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"omni/pkg/metrics"
	"omni/pkg/retry"
	"omni/pkg/tracing"
)

const kafkaDedupPrefix = "omni:kafka:idem:"

// entryNamespace scopes the name-based UUIDs used as kafka entry ids.
var entryNamespace = uuid.MustParse("6f1c7a52-3c0e-4b8e-9a51-0d7e2f9b8c11")

// MessageWriter is the subset of *kafka.Writer the transport needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaOptions struct {
	Brokers      []string
	BatchTimeout time.Duration
	RequiredAcks int
}

// Kafka writes each publish as one message to the topic named by the stream
// key. The message key is the idempotency key, so duplicates that slip past
// the dedup store still land on the same partition.
type Kafka struct {
	writer      MessageWriter
	dedup       DedupStore
	ttl         time.Duration
	// pendingWait is how long a duplicate waits for an in-flight write.
	pendingWait time.Duration
}

func NewKafkaWriter(opts KafkaOptions) *kafka.Writer {
	batchTimeout := opts.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	acks := kafka.RequireAll
	if opts.RequiredAcks == 1 {
		acks = kafka.RequireOne
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(opts.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
		RequiredAcks:           acks,
		AllowAutoTopicCreation: true,
		Async:                  false,
	}
}

func NewKafka(writer MessageWriter, dedup DedupStore, ttl time.Duration) *Kafka {
	if dedup == nil {
		dedup = NewMemoryDedupStore()
	}
	return &Kafka{writer: writer, dedup: dedup, ttl: ttl, pendingWait: defaultPendingWait}
}

func (k *Kafka) Name() string {
	return "kafka"
}

func (k *Kafka) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if err := validateKeys(streamKey, idempotencyKey); err != nil {
		return "", err
	}

	id := KafkaEntryID(streamKey, idempotencyKey)
	key := kafkaDedupPrefix + streamKey + ":" + idempotencyKey

	existing, claimed, err := k.dedup.Claim(ctx, key, dedupPendingValue, pendingClaimTTL(k.pendingWait, k.ttl))
	if err != nil {
		return "", err
	}
	if !claimed {
		metrics.IncDedupHit(k.Name())
		if existing != dedupPendingValue {
			return existing, nil
		}
		return awaitCommitted(ctx, key, k.pendingWait, func(ctx context.Context) (string, bool, error) {
			return k.dedup.Lookup(ctx, key)
		})
	}

	headers := []kafka.Header{
		{Key: "idempotency_key", Value: []byte(idempotencyKey)},
		{Key: "entry_id", Value: []byte(id)},
	}
	headers = tracing.InjectTraceContext(ctx, headers)

	err = k.writer.WriteMessages(ctx, kafka.Message{
		Topic:   streamKey,
		Key:     []byte(idempotencyKey),
		Value:   payload,
		Headers: headers,
		Time:    time.Now(),
	})
	if err != nil {
		_ = k.dedup.Release(context.WithoutCancel(ctx), key)
		return "", classifyKafka(fmt.Errorf("failed to write kafka message: %w", err))
	}

	// The message is written either way. A failed commit only shortens the
	// dedup window to the pending marker's TTL.
	if err := k.dedup.Commit(context.WithoutCancel(ctx), key, id, k.ttl); err != nil {
		metrics.IncDedupCommitFailure(k.Name())
	}
	return id, nil
}

func (k *Kafka) Close() error {
	return k.writer.Close()
}

// KafkaEntryID is a name-based UUID of (stream, idempotency key), stable
// across retries and processes.
func KafkaEntryID(streamKey, idempotencyKey string) string {
	return uuid.NewSHA1(entryNamespace, []byte(streamKey+"\x00"+idempotencyKey)).String()
}

func classifyKafka(err error) error {
	cause := err
	var writeErrs kafka.WriteErrors
	if errors.As(err, &writeErrs) {
		for _, e := range writeErrs {
			if e != nil {
				cause = e
				break
			}
		}
	}

	var kafkaErr kafka.Error
	if errors.As(cause, &kafkaErr) {
		if kafkaErr.Temporary() || kafkaErr.Timeout() {
			return retry.NewRetryableError(err)
		}
		return retry.NewFatalError(err)
	}
	if IsTransient(cause) {
		return retry.NewRetryableError(err)
	}
	return retry.NewFatalError(err)
}

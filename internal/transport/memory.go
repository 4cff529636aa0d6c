package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"omni/pkg/metrics"
)

// Entry is one appended record of the in-process log.
type Entry struct {
	ID             string
	IdempotencyKey string
	Payload        []byte
}

// Memory is an in-process append-only log keyed by stream. It backs unit
// tests and single-node development setups.
type Memory struct {
	mu      sync.Mutex
	streams map[string][]Entry
	dedup   map[string]string
	seq     uint64
	faults  []error
	calls   int
	closed  bool
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		streams: make(map[string][]Entry),
		dedup:   make(map[string]string),
		now:     time.Now,
	}
}

func (m *Memory) Name() string {
	return "memory"
}

func (m *Memory) Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error) {
	if err := validateKeys(streamKey, idempotencyKey); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", Classify(err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.closed {
		return "", Classify(ErrClosed)
	}
	if len(m.faults) > 0 {
		err := m.faults[0]
		m.faults = m.faults[1:]
		if err != nil {
			return "", err
		}
	}

	dk := dedupKey(streamKey, idempotencyKey)
	if id, ok := m.dedup[dk]; ok {
		metrics.IncDedupHit(m.Name())
		return id, nil
	}

	m.seq++
	id := fmt.Sprintf("%d-%d", m.now().UnixMilli(), m.seq)
	body := make([]byte, len(payload))
	copy(body, payload)

	m.streams[streamKey] = append(m.streams[streamKey], Entry{
		ID:             id,
		IdempotencyKey: idempotencyKey,
		Payload:        body,
	})
	m.dedup[dk] = id
	return id, nil
}

// FailNext queues errors returned by the next publishes, one per call.
// A nil entry lets that call through.
func (m *Memory) FailNext(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults = append(m.faults, errs...)
}

// Entries returns a copy of everything appended to streamKey, oldest first.
func (m *Memory) Entries(streamKey string) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, len(m.streams[streamKey]))
	copy(out, m.streams[streamKey])
	return out
}

// Calls counts every Publish that reached the store, including failed ones.
func (m *Memory) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func dedupKey(streamKey, idempotencyKey string) string {
	return streamKey + "\x00" + idempotencyKey
}

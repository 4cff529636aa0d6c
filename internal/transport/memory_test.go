package transport

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni/pkg/retry"
)

var entryIDPattern = regexp.MustCompile(`^[0-9]+-[0-9]+$`)

func TestMemory_PublishAppends(t *testing.T) {
	m := NewMemory()
	m.now = func() time.Time { return time.UnixMilli(1714564800000) }
	ctx := context.Background()

	id1, err := m.Publish(ctx, "omni.messages", "k1", []byte(`{"text":"a"}`))
	require.NoError(t, err)
	id2, err := m.Publish(ctx, "omni.messages", "k2", []byte(`{"text":"b"}`))
	require.NoError(t, err)

	assert.Equal(t, "1714564800000-1", id1)
	assert.Equal(t, "1714564800000-2", id2)
	assert.Regexp(t, entryIDPattern, id1)

	entries := m.Entries("omni.messages")
	require.Len(t, entries, 2)
	assert.Equal(t, "k1", entries[0].IdempotencyKey)
	assert.JSONEq(t, `{"text":"b"}`, string(entries[1].Payload))
}

func TestMemory_DuplicateReturnsOriginalID(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.Publish(ctx, "omni.messages", "same", []byte(`{"n":1}`))
	require.NoError(t, err)
	second, err := m.Publish(ctx, "omni.messages", "same", []byte(`{"n":2}`))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, m.Entries("omni.messages"), 1)

	// Same key on a different stream is a different message.
	other, err := m.Publish(ctx, "omni.outbound", "same", []byte(`{"n":3}`))
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestMemory_FailNext(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := retry.NewRetryableError(errors.New("boom"))

	m.FailNext(boom, nil, boom)

	_, err := m.Publish(ctx, "s", "k1", []byte("{}"))
	assert.ErrorIs(t, err, boom)

	_, err = m.Publish(ctx, "s", "k2", []byte("{}"))
	assert.NoError(t, err)

	_, err = m.Publish(ctx, "s", "k3", []byte("{}"))
	assert.ErrorIs(t, err, boom)

	_, err = m.Publish(ctx, "s", "k4", []byte("{}"))
	assert.NoError(t, err)

	assert.Equal(t, 4, m.Calls())
	assert.Len(t, m.Entries("s"), 2)
}

func TestMemory_PayloadIsCopied(t *testing.T) {
	m := NewMemory()
	payload := []byte(`{"a":1}`)

	_, err := m.Publish(context.Background(), "s", "k", payload)
	require.NoError(t, err)
	payload[2] = 'b'

	assert.JSONEq(t, `{"a":1}`, string(m.Entries("s")[0].Payload))
}

func TestMemory_ClosedAndCancelled(t *testing.T) {
	m := NewMemory()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Publish(ctx, "s", "k", []byte("{}"))
	assert.ErrorIs(t, err, context.Canceled)

	require.NoError(t, m.Close())
	_, err = m.Publish(context.Background(), "s", "k", []byte("{}"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMemory_ConcurrentDuplicates(t *testing.T) {
	m := NewMemory()
	ids := make([]string, 16)

	var wg sync.WaitGroup
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Publish(context.Background(), "s", "same", []byte("{}"))
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, m.Entries("s"), 1)
}

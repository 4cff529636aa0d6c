package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	apperrors "omni/pkg/errors"
	"omni/pkg/retry"
)

// Transport is an append-only stream store. Publishing the same
// (streamKey, idempotencyKey) twice returns the entry id of the first append
// without appending again, within the store's dedup window.
type Transport interface {
	Publish(ctx context.Context, streamKey, idempotencyKey string, payload []byte) (string, error)
	Name() string
	Close() error
}

// Pinger is implemented by transports with a remote dependency worth
// reporting on the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

var (
	ErrEmptyStreamKey      = errors.New("stream key is empty")
	ErrEmptyIdempotencyKey = errors.New("idempotency key is empty")
	ErrClosed              = errors.New("transport is closed")
)

func validateKeys(streamKey, idempotencyKey string) error {
	if strings.TrimSpace(streamKey) == "" {
		return retry.NewFatalError(ErrEmptyStreamKey)
	}
	if strings.TrimSpace(idempotencyKey) == "" {
		return retry.NewFatalError(ErrEmptyIdempotencyKey)
	}
	return nil
}

// Classify marks an unmarked error as retryable or fatal. Errors that
// already carry a marker are returned as they are.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	var retryable retry.RetryableError
	if errors.As(err, &retryable) {
		return err
	}
	var fatal retry.FatalError
	if errors.As(err, &fatal) {
		return err
	}

	if IsTransient(err) {
		return retry.NewRetryableError(err)
	}
	return retry.NewFatalError(err)
}

// IsTransient reports errors that may succeed when tried again: timeouts,
// dropped connections and network failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if apperrors.IsValidation(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}
	return false
}

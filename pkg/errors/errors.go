package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	KindInboundInvalid   = "inbound_invalid"
	KindOutboundInvalid  = "outbound_invalid"
	KindMalformedPayload = "malformed_payload"
	KindPublishFailed    = "publish_failed"
)

var (
	ErrInboundInvalid     = NewError(KindInboundInvalid, "inbound envelope is invalid", http.StatusBadRequest).AsFatal()
	ErrOutboundInvalid    = NewError(KindOutboundInvalid, "outbound envelope is invalid", http.StatusBadRequest).AsFatal()
	ErrPublishFailed      = NewError(KindPublishFailed, "publish failed after retries", http.StatusBadGateway).AsFatal()
	ErrNotFound           = NewError("not_found", "resource not found", http.StatusNotFound)
	ErrInternal           = NewError("internal_error", "internal server error", http.StatusInternalServerError)
	ErrUnauthorized       = NewError("unauthorized", "unauthorized", http.StatusUnauthorized)
	ErrTimeout            = NewError("timeout", "operation timed out", http.StatusGatewayTimeout)
	ErrServiceUnavailable = NewError("service_unavailable", "service unavailable", http.StatusServiceUnavailable)
)

type RetryableError interface {
	error
	IsRetryable() bool
}

type FatalError interface {
	error
	IsFatal() bool
}

type Error struct {
	Code      string
	Message   string
	Status    int
	Details   map[string]interface{}
	Cause     error
	retryable *bool
}

func NewError(code, message string, status int) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Status:  status,
		Details: make(map[string]interface{}),
	}
}

// MalformedPayload builds the mapper error for a channel, e.g. "malformed_payload:whatsapp".
func MalformedPayload(channel, message string) *Error {
	return NewError(KindMalformedPayload+":"+channel, message, http.StatusBadRequest).
		WithDetail("channel", channel).
		AsFatal()
}

// Invalid returns a copy of a validation error with the failing field attached.
func Invalid(base *Error, field, message string) *Error {
	return base.
		WithDetail("field", field).
		WithDetail("message", fmt.Sprintf("%s: %s", field, message))
}

func (e *Error) Error() string {
	msg := e.Message

	if len(e.Details) > 0 {
		if detailMsg, ok := e.Details["message"].(string); ok && detailMsg != "" {
			msg = detailMsg
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors of the same kind so errors.Is(err, ErrInboundInvalid) works
// on copies produced by WithDetail / WithCause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) IsRetryable() bool {
	if e.retryable != nil {
		return *e.retryable
	}
	if e.Cause != nil {
		var retryableErr RetryableError
		if errors.As(e.Cause, &retryableErr) {
			return retryableErr.IsRetryable()
		}
		var fatalErr FatalError
		if errors.As(e.Cause, &fatalErr) {
			return !fatalErr.IsFatal()
		}
	}
	return !isValidationCode(e.Code) && e.Code != ErrNotFound.Code
}

func (e *Error) IsFatal() bool {
	return !e.IsRetryable()
}

func (e *Error) WithCause(cause error) *Error {
	err := e.clone()
	err.Cause = cause
	return err
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	err := e.clone()
	err.Details[key] = value
	return err
}

func (e *Error) WithDetails(details map[string]interface{}) *Error {
	err := e.clone()
	for k, v := range details {
		err.Details[k] = v
	}
	return err
}

func (e *Error) AsRetryable() *Error {
	err := e.clone()
	retryable := true
	err.retryable = &retryable
	return err
}

func (e *Error) AsFatal() *Error {
	err := e.clone()
	retryable := false
	err.retryable = &retryable
	return err
}

func (e *Error) clone() *Error {
	err := *e
	err.Details = make(map[string]interface{}, len(e.Details)+1)
	for k, v := range e.Details {
		err.Details[k] = v
	}
	return &err
}

func Wrap(err error, appErr *Error) *Error {
	if err == nil {
		return nil
	}
	return appErr.WithCause(err)
}

// IsKind reports whether err carries the given code anywhere in its chain.
func IsKind(err error, code string) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Kind returns the code of the first *Error in the chain, or "".
func Kind(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

func IsMalformedPayload(err error) bool {
	return strings.HasPrefix(Kind(err), KindMalformedPayload+":")
}

// IsValidation covers schema and mapper failures; none of them are ever retried.
func IsValidation(err error) bool {
	return isValidationCode(Kind(err))
}

func IsPublishFailed(err error) bool {
	return IsKind(err, KindPublishFailed)
}

func IsNotFound(err error) bool {
	return IsKind(err, ErrNotFound.Code)
}

func isValidationCode(code string) bool {
	return code == KindInboundInvalid ||
		code == KindOutboundInvalid ||
		strings.HasPrefix(code, KindMalformedPayload+":")
}

func ToHTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	return http.StatusInternalServerError
}

func ToErrorResponse(err error) map[string]interface{} {
	var appErr *Error
	if !errors.As(err, &appErr) {
		// If it's not our error type, wrap it
		appErr = ErrInternal.WithCause(err)
	}

	response := map[string]interface{}{
		"error":      appErr.Message,
		"error_code": appErr.Code,
	}

	if len(appErr.Details) > 0 {
		response["details"] = appErr.Details
	}

	return response
}

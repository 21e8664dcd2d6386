// Package errors defines the error taxonomy shared by the aggregation core:
// sentinel kinds, a provider status error used for retry classification,
// and the AppError carrier that HTTP handlers translate into responses.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrTransient   = errors.New("transient failure")
	ErrTerminal    = errors.New("terminal failure")
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrTimeout     = errors.New("operation timed out")
	ErrCache       = errors.New("cache failure")
	ErrInternal    = errors.New("internal error")
)

// Kind is the coarse classification used by the retry executor and the
// HTTP layer.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindTransient
	KindTerminal
	KindCircuitOpen
	KindTimeout
	KindCache
	KindCanceled
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindCircuitOpen:
		return "circuit_open"
	case KindTimeout:
		return "timeout"
	case KindCache:
		return "cache"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// StatusError carries an HTTP-style status returned by an upstream provider.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream status %d: %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrTerminal) and errors.Is(err, ErrTransient)
// match on the status range.
func (e *StatusError) Is(target error) bool {
	switch target {
	case ErrTerminal:
		return IsTerminalStatus(e.StatusCode)
	case ErrTransient:
		return !IsTerminalStatus(e.StatusCode)
	}
	return false
}

// NewStatus builds a StatusError.
func NewStatus(code int, format string, args ...any) *StatusError {
	return &StatusError{StatusCode: code, Message: fmt.Sprintf(format, args...)}
}

// IsTerminalStatus reports whether a status code must not be retried:
// every 4xx except 429.
func IsTerminalStatus(code int) bool {
	return code >= 400 && code < 500 && code != http.StatusTooManyRequests
}

// Transient marks err as retryable.
func Transient(err error) error {
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// Terminal marks err as non-retryable.
func Terminal(err error) error {
	return fmt.Errorf("%w: %w", ErrTerminal, err)
}

// Validation creates a validation error with a formatted message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Classify maps an error chain to a Kind. Order matters: an explicit
// terminal/validation marker wins over a transient cause further down.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	switch {
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, ErrCircuitOpen):
		return KindCircuitOpen
	case errors.Is(err, ErrCache):
		return KindCache
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if IsTerminalStatus(statusErr.StatusCode) {
			return KindTerminal
		}
		return KindTransient
	}
	switch {
	case errors.Is(err, ErrTerminal):
		return KindTerminal
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	default:
		return KindTransient
	}
}

// IsRetryable reports whether the retry executor may try err again.
func IsRetryable(err error) bool {
	switch Classify(err) {
	case KindValidation, KindTerminal, KindCanceled:
		return false
	default:
		return true
	}
}

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status the aggregate endpoint returns.
// Only validation failures are client errors; every unrecoverable failure
// of the pipeline is a 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	if Classify(err) == KindValidation {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured: генератор выключен (нет api_key).
var ErrNotConfigured = errors.New("connectors: generator is not configured")

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// PermanentError: ответ, который не исправится повтором (4xx кроме 429).
type PermanentError struct {
	Status int
	Cause  error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent failure: status %d (cause: %v)", e.Status, e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

func isRetryable(err error) bool {
	var pErr *PermanentError
	return !errors.As(err, &pErr) && !errors.Is(err, ErrNotConfigured)
}

package sitegen

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrQuotaExceeded    = errors.New("sitegen: daily quota exceeded")
	ErrStoreUnavailable = errors.New("sitegen: store unavailable")
	ErrInvalidSubject   = errors.New("sitegen: invalid subject")

	ErrNoProviders         = errors.New("sitegen: no providers available")
	ErrRateLimited         = errors.New("sitegen: rate limited by provider")
	ErrAuthFailed          = errors.New("sitegen: authentication failed")
	ErrInvalidRequest      = errors.New("sitegen: invalid request")
	ErrProviderUnavailable = errors.New("sitegen: provider unavailable")
	ErrAllFailed           = errors.New("sitegen: all providers failed")

	ErrProjectNotFound = errors.New("sitegen: project not found")
	ErrFrameNotFound   = errors.New("sitegen: frame not found")
	ErrForbidden       = errors.New("sitegen: forbidden")
)

// QuotaError is returned by the gateway when a subject has no quota left.
type QuotaError struct {
	SubjectID  string
	Status     QuotaStatus
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("sitegen: subject=%s used=%d total=%d retry_after=%s: %v",
		e.SubjectID, e.Status.Used, e.Status.Total, e.RetryAfter.Round(time.Second), ErrQuotaExceeded)
}

func (e *QuotaError) Unwrap() error {
	return ErrQuotaExceeded
}

// GatewayError wraps a provider error with routing context.
type GatewayError struct {
	Err      error
	Provider string
	Model    string
	Attempts int
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("sitegen: provider=%s model=%s attempts=%d: %v",
		e.Provider, e.Model, e.Attempts, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the error should not be retried with another provider.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthFailed) || errors.Is(err, ErrInvalidRequest)
}

// IsRetryable returns true if the error can be retried with another provider.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}

// IsTransient returns true for infrastructure failures the caller may retry
// later with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || IsRetryable(err)
}

package payment

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"ms-checkout/internal/config"
	"ms-checkout/internal/models"

	"github.com/cenkalti/backoff/v4"
)

// ProviderError is a non-2xx answer, or a transport failure when StatusCode is 0.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
	Retryable  bool
}

func NewProviderError(provider string, statusCode int, message string) *ProviderError {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
		Retryable:  statusCode == 0 || statusCode >= 500 || statusCode == http.StatusTooManyRequests,
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: transport error: %s", e.Provider, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient reports whether another attempt could succeed.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

type RetryPolicy struct {
	MaxAttempts     int
	AttemptTimeout  time.Duration
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  5 * time.Second,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

func NewRetryPolicy(cfg config.PaymentsConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		p.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.AttemptTimeout > 0 {
		p.AttemptTimeout = cfg.AttemptTimeout
	}
	if cfg.InitialBackoff > 0 {
		p.InitialInterval = cfg.InitialBackoff
	}
	if cfg.MaxBackoff > 0 {
		p.MaxInterval = cfg.MaxBackoff
	}
	return p
}

// Do runs op with a per-attempt timeout and exponential backoff between
// transient failures. Non-transient failures stop immediately and surface as
// ErrPaymentProviderRejected; exhausted attempts as ErrPaymentProviderUnavailable.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)

	var lastErr error
	err := backoff.Retry(func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
		defer cancel()

		err := op(attemptCtx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy)
	if err == nil {
		return nil
	}

	if lastErr == nil {
		lastErr = err
	}
	var pe *ProviderError
	if !IsTransient(lastErr) && errors.As(lastErr, &pe) {
		return fmt.Errorf("%w: %v", models.ErrPaymentProviderRejected, lastErr)
	}
	return fmt.Errorf("%w: %v", models.ErrPaymentProviderUnavailable, lastErr)
}

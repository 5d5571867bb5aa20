package payment

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"ms-checkout/internal/models"

	"github.com/stretchr/testify/assert"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		AttemptTimeout:  50 * time.Millisecond,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return NewProviderError("pagotic", http.StatusBadGateway, "upstream")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetry_ExhaustedIsUnavailable(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("stripe", http.StatusServiceUnavailable, "down")
	})

	assert.ErrorIs(t, err, models.ErrPaymentProviderUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetry_ClientErrorIsRejectedWithoutRetry(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		return NewProviderError("pagotic", http.StatusUnprocessableEntity, "invalid amount")
	})

	assert.ErrorIs(t, err, models.ErrPaymentProviderRejected)
	assert.Equal(t, 1, calls)
}

func TestRetry_AttemptTimeoutIsRetried(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), func(ctx context.Context) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, models.ErrPaymentProviderUnavailable)
	assert.Equal(t, 3, calls)
}

func TestRetry_RateLimitedIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewProviderError("pagotic", http.StatusTooManyRequests, "")))
	assert.True(t, IsTransient(NewProviderError("pagotic", 0, "connection reset")))
	assert.False(t, IsTransient(NewProviderError("pagotic", http.StatusBadRequest, "")))
	assert.False(t, IsTransient(errors.New("decode failure")))
}

func TestGateways_Get(t *testing.T) {
	gws := Gateways{}
	_, err := gws.Get("mercadopago")
	assert.ErrorIs(t, err, models.ErrUnsupportedProvider)
}

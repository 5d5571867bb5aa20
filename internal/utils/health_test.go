package utils

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"ms-checkout/internal/logger"

	"github.com/stretchr/testify/assert"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// brokenWriter accepts headers but fails every body write.
type brokenWriter struct {
	header http.Header
	status int
}

func (w *brokenWriter) Header() http.Header         { return w.header }
func (w *brokenWriter) WriteHeader(status int)      { w.status = status }
func (w *brokenWriter) Write(b []byte) (int, error) { return 0, errors.New("connection reset") }

func TestHealthHandler(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	rec := httptest.NewRecorder()
	HealthHandler(pingFunc(func(context.Context) error { return nil }), log)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(pingFunc(func(context.Context) error { return errors.New("db down") }), log)(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "db down")
}

func TestHealthHandler_LogsWriteFailure(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf)

	w := &brokenWriter{header: http.Header{}}
	HealthHandler(pingFunc(func(context.Context) error { return nil }), log)(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.status)
	assert.Contains(t, buf.String(), "failed to encode health response")
}

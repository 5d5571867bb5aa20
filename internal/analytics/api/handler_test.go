package analytics_api

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ms-checkout/internal/analytics"
	"ms-checkout/internal/auth"
	"ms-checkout/internal/database/testdb"
	"ms-checkout/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T) http.Handler {
	db := testdb.New(t)
	testdb.SeedEvent(t, db, "ev1", "Recital")
	testdb.SeedCategory(t, db, "ev1", "ga", 10000, 50)

	log := logger.NewWithWriter(io.Discard)
	h := NewHandler(analytics.NewService(db, log), log)

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &auth.Claims{Subject: "someone"}
			if role := r.Header.Get("X-Test-Role"); role != "" {
				claims.Roles = []string{role}
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	})
	r.Route("/api", h.RegisterRoutes)
	return r
}

func do(t *testing.T, router http.Handler, method, path, role, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Test-Role", role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func TestGetEventSales_AdminOnly(t *testing.T) {
	router := setupRouter(t)

	code, _ := do(t, router, http.MethodGet, "/api/analytics/events/ev1", "", "")
	assert.Equal(t, http.StatusForbidden, code)

	code, env := do(t, router, http.MethodGet, "/api/analytics/events/ev1", auth.RoleAdmin, "")
	require.Equal(t, http.StatusOK, code)
	var report analytics.EventSales
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, "ev1", report.EventID)
	require.Len(t, report.Categories, 1)
	assert.Equal(t, 50, report.Categories[0].Available)

	code, _ = do(t, router, http.MethodGet, "/api/analytics/events/missing", auth.RoleAdmin, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestGetBatchSales(t *testing.T) {
	router := setupRouter(t)

	code, env := do(t, router, http.MethodPost, "/api/analytics/events/batch", auth.RoleAdmin, `{"event_ids":["ev1","ghost"]}`)
	require.Equal(t, http.StatusOK, code)
	var batch analytics.BatchSales
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Equal(t, []string{"ghost"}, batch.Missing)
	assert.Len(t, batch.Events, 1)

	code, _ = do(t, router, http.MethodPost, "/api/analytics/events/batch", auth.RoleAdmin, `{"event_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, router, http.MethodPost, "/api/analytics/events/batch", auth.RoleAdmin, `not json`)
	assert.Equal(t, http.StatusBadRequest, code)
}

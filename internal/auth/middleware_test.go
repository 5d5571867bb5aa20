package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-checkout/internal/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "dev-secret"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func validClaims(sub string, roles ...string) jwt.MapClaims {
	return jwt.MapClaims{
		"sub":          sub,
		"email":        sub + "@example.com",
		"exp":          time.Now().Add(time.Hour).Unix(),
		"realm_access": map[string]any{"roles": roles},
	}
}

func TestHMACVerifier(t *testing.T) {
	v := NewHMACVerifier(testSecret)
	ctx := context.Background()

	c, err := v.Verify(ctx, signToken(t, testSecret, validClaims("user-1", "scanner")))
	require.NoError(t, err)
	assert.Equal(t, "user-1", c.Subject)
	assert.Equal(t, "user-1@example.com", c.Email)
	assert.True(t, c.HasRole(RoleScanner))
	assert.False(t, c.HasRole(RoleAdmin))

	_, err = v.Verify(ctx, signToken(t, "other-secret", validClaims("user-1")))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	expired := validClaims("user-1")
	expired["exp"] = time.Now().Add(-time.Minute).Unix()
	_, err = v.Verify(ctx, signToken(t, testSecret, expired))
	assert.ErrorIs(t, err, ErrUnauthenticated)

	noSub := validClaims("")
	_, err = v.Verify(ctx, signToken(t, testSecret, noSub))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestMiddleware(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	var seen string
	h := Middleware(NewHMACVerifier(testSecret), log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = UserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, validClaims("user-7")))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", seen)
}

func TestRequireRole(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	h := RequireRole(log, RoleScanner, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for name, tc := range map[string]struct {
		claims *Claims
		want   int
	}{
		"anonymous": {nil, http.StatusForbidden},
		"buyer":     {&Claims{Subject: "u1"}, http.StatusForbidden},
		"scanner":   {&Claims{Subject: "u2", Roles: []string{"SCANNER"}}, http.StatusOK},
		"admin":     {&Claims{Subject: "u3", Roles: []string{"admin"}}, http.StatusOK},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/tickets/validate", nil)
			if tc.claims != nil {
				req = req.WithContext(WithClaims(req.Context(), tc.claims))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestCronAuth(t *testing.T) {
	log := logger.NewWithWriter(io.Discard)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/internal/cron/sweep", nil)
	req.Header.Set(CronSecretHeader, "s3cret")
	rec := httptest.NewRecorder()
	CronAuth("s3cret", log)(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req.Header.Set(CronSecretHeader, "wrong")
	rec = httptest.NewRecorder()
	CronAuth("s3cret", log)(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set(CronSecretHeader, "")
	rec = httptest.NewRecorder()
	CronAuth("", log)(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

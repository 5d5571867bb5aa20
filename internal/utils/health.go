package utils

import (
	"context"
	"fmt"
	"net/http"

	"ms-checkout/internal/logger"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler answers 200 while db responds to a ping and 503 otherwise.
func HealthHandler(db Pinger, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var err error
		if perr := db.PingContext(r.Context()); perr != nil {
			log.Warn("HTTP", fmt.Sprintf("Health check failed: %v", perr))
			err = WriteError(w, http.StatusServiceUnavailable, "Database unavailable", perr.Error(), nil)
		} else {
			err = WriteSuccess(w, http.StatusOK, "OK", nil)
		}
		if err != nil {
			log.Error("HTTP", fmt.Sprintf("failed to encode health response: %v", err))
		}
	}
}

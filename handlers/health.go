package handlers

import (
	"context"
	"net/http"
	"time"

	"webpay-gateway-api/models"
	"webpay-gateway-api/utils"
)

// Pinger is a dependency the health check pings, e.g. the Redis client.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type HealthHandler struct {
	checks map[string]Pinger
}

func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	results := make(map[string]string, len(h.checks))
	healthy := true
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}

	if !healthy {
		utils.SendJSONResponse(w, http.StatusServiceUnavailable, models.APIResponse{
			Status:  "error",
			Message: "unhealthy",
			Data:    results,
		})
		return
	}

	utils.SendSuccessResponse(w, models.APIResponse{
		Status:  "success",
		Message: "healthy",
		Data:    results,
	})
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/brightline-ai/concierge/pkg/logging"
)

const readinessTimeout = 2 * time.Second

// Check is one readiness dependency (Postgres, Redis, ...).
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// HealthHandler serves the liveness and readiness probes.
type HealthHandler struct {
	logger *logging.Logger
	checks []Check
}

func NewHealthHandler(logger *logging.Logger, checks ...Check) *HealthHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &HealthHandler{logger: logger, checks: checks}
}

// Liveness reports that the process is up. It never touches dependencies,
// so a Redis outage cannot get the process restarted.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness pings every registered dependency and returns 503 with the
// failing names when any is unreachable.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failures := map[string]string{}
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			failures[c.Name] = err.Error()
		}
	}
	if len(failures) > 0 {
		for name, msg := range failures {
			h.logger.Warn("readiness check failed", "check", name, "error", msg)
		}
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":   "unavailable",
			"failures": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

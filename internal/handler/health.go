package handler

import (
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

type HealthHandler struct {
	db *sql.DB
}

func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"service":   "monetization",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness verifies the system of record is reachable and reports the
// external-event backlog so operators can see whether the settlement
// pipeline is draining.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	httpStatus := http.StatusOK
	pendingEvents := -1

	if err := h.db.PingContext(r.Context()); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		dbStatus = "down"
		httpStatus = http.StatusServiceUnavailable
	} else {
		err := h.db.QueryRowContext(r.Context(),
			`SELECT COUNT(*) FROM external_events WHERE processed = false`,
		).Scan(&pendingEvents)
		if err != nil {
			slog.Warn("readiness check: backlog query failed", "error", err)
		}
	}

	overallStatus := "ok"
	if httpStatus != http.StatusOK {
		overallStatus = "down"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"service":   "monetization",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]any{
			"postgres":       dbStatus,
			"pending_events": pendingEvents,
		},
	})
}

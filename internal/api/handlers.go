package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"mindgrate/backend/pkg/models"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Pinger is satisfied by anything that can check its backing connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains the unauthenticated operational handlers
type Handler struct {
	db Pinger
}

// NewHandler creates a new Handler with required dependencies
func NewHandler(db Pinger) *Handler {
	return &Handler{db: db}
}

// HandleHealth reports service health. It answers 503 when the database is
// unreachable.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := models.HealthStatus{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Service:   "mindgrate",
		Version:   Version,
		Checks:    map[string]string{},
	}
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["database"] = "ok"
		}
	}
	writeJSON(w, code, status)
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

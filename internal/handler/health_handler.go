package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// ConnectionSource reports the radio link state.
type ConnectionSource interface {
	GetConnectionStatus() models.ConnectionStatus
}

// ArchiveHealth is implemented by the optional Postgres archive.
type ArchiveHealth interface {
	Health(ctx context.Context) error
}

type HealthHandler struct {
	radio     ConnectionSource
	archive   ArchiveHealth // nil when the archive is disabled
	log       *logger.Logger
	startedAt time.Time
}

func NewHealthHandler(radio ConnectionSource, archive ArchiveHealth, log *logger.Logger) *HealthHandler {
	return &HealthHandler{
		radio:     radio,
		archive:   archive,
		log:       log,
		startedAt: time.Now(),
	}
}

// RegisterRoutes binds to the root router: health probes should not
// pass through the API middleware chain.
func (h *HealthHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/health/live", h.Liveness).Methods("GET")
	r.HandleFunc("/health/ready", h.Readiness).Methods("GET")
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	radioUp := h.radio.GetConnectionStatus().Connected

	services := map[string]bool{"radio": radioUp}
	if h.archive != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		services["archive"] = h.archive.Health(ctx) == nil
		cancel()
	}

	status := "healthy"
	statusCode := http.StatusOK
	for name, up := range services {
		if !up {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			h.log.Warn("Health check degraded: %s down", name)
		}
	}

	respondJSON(w, statusCode, map[string]interface{}{
		"status":         status,
		"services":       services,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().Unix(),
	})
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness is ready only with a live radio link, so supervisors can
// hold dependent automation until packets are actually flowing.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if !h.radio.GetConnectionStatus().Connected {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

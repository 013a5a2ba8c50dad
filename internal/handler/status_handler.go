package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// StatusSource is the slice of the collector the status endpoint reads.
type StatusSource interface {
	GetConnectionStatus() models.ConnectionStatus
	GetStats() models.Stats
	StatusReports() map[string]models.StatusReport
	LocalNodeRecord() *models.NodeRecord
}

// HelpControl toggles the distress flag on the ICP broadcaster.
type HelpControl interface {
	RequestHelp()
	ClearHelp()
	NeedsHelp() bool
	CurrentStatus() (status string, reasons []string)
}

type StatusHandler struct {
	src  StatusSource
	help HelpControl
	log  *logger.Logger
}

func NewStatusHandler(src StatusSource, help HelpControl, log *logger.Logger) *StatusHandler {
	return &StatusHandler{src: src, help: help, log: log}
}

func (h *StatusHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/status", h.GetStatus).Methods("GET")
	r.HandleFunc("/status/help", h.RequestHelp).Methods("POST")
	r.HandleFunc("/status/help", h.ClearHelp).Methods("DELETE")
}

func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	status, reasons := h.help.CurrentStatus()

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"connection": h.src.GetConnectionStatus(),
		"stats":      h.src.GetStats(),
		"local": map[string]interface{}{
			"status":     status,
			"reasons":    reasons,
			"needs_help": h.help.NeedsHelp(),
			"node":       h.src.LocalNodeRecord(),
		},
		"reports": h.src.StatusReports(),
	})
}

func (h *StatusHandler) RequestHelp(w http.ResponseWriter, r *http.Request) {
	h.help.RequestHelp()
	h.log.Warn("Help flag raised from the UI")
	respondJSON(w, http.StatusOK, map[string]bool{"needs_help": true})
}

func (h *StatusHandler) ClearHelp(w http.ResponseWriter, r *http.Request) {
	h.help.ClearHelp()
	h.log.Info("Help flag cleared from the UI")
	respondJSON(w, http.StatusOK, map[string]bool{"needs_help": false})
}

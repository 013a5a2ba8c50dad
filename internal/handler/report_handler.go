package handler

import (
	"net/http"

	"github.com/gorilla/mux"

	"meshmon/internal/logger"
)

// ReportGenerator renders a summary PDF on demand.
type ReportGenerator interface {
	Generate() (path string, err error)
}

type ReportHandler struct {
	gen ReportGenerator
	log *logger.Logger
}

func NewReportHandler(gen ReportGenerator, log *logger.Logger) *ReportHandler {
	return &ReportHandler{gen: gen, log: log}
}

func (h *ReportHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/reports/generate", h.GenerateReport).Methods("POST")
}

func (h *ReportHandler) GenerateReport(w http.ResponseWriter, r *http.Request) {
	path, err := h.gen.Generate()
	if err != nil {
		h.log.Error("On-demand report failed: %v", err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("Report generated on demand: %s", path)
	respondJSON(w, http.StatusOK, map[string]string{"path": path})
}

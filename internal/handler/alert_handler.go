package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"meshmon/internal/alerts"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// AlertEngine is the slice of the alert engine the API needs.
type AlertEngine interface {
	Rules() []alerts.RuleSetting
	SendTestAlert(rule, nodeID string, rec *models.NodeRecord) error
}

// EmailTester verifies the SMTP settings end to end.
type EmailTester interface {
	Configured() bool
	TestConnection() error
}

type AlertHandler struct {
	engine AlertEngine
	email  EmailTester
	nodes  NodeSource
	log    *logger.Logger
}

func NewAlertHandler(engine AlertEngine, email EmailTester, nodes NodeSource, log *logger.Logger) *AlertHandler {
	return &AlertHandler{
		engine: engine,
		email:  email,
		nodes:  nodes,
		log:    log,
	}
}

func (h *AlertHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/alerts/rules", h.GetRules).Methods("GET")
	r.HandleFunc("/alerts/test", h.SendTest).Methods("POST")
	r.HandleFunc("/alerts/email/test", h.TestEmail).Methods("POST")
}

func (h *AlertHandler) GetRules(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.engine.Rules())
}

type testAlertRequest struct {
	Rule   string `json:"rule"`
	NodeID string `json:"node_id"`
}

// SendTest pushes a drill alert for a real node through the configured
// notifiers, so the operator can verify delivery without waiting for a
// genuine failure.
func (h *AlertHandler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req testAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	nodeID := canonicalNodeID(req.NodeID)
	rec, ok := h.nodes.GetNodesData()[nodeID]
	if !ok {
		respondError(w, http.StatusNotFound, "node not found")
		return
	}

	if err := h.engine.SendTestAlert(req.Rule, nodeID, rec); err != nil {
		h.log.Warn("Test alert rejected: %v", err)
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"rule":    req.Rule,
		"node_id": nodeID,
		"status":  "sent",
	})
}

func (h *AlertHandler) TestEmail(w http.ResponseWriter, r *http.Request) {
	if !h.email.Configured() {
		respondError(w, http.StatusBadRequest, "email notifications are not configured")
		return
	}

	if err := h.email.TestConnection(); err != nil {
		h.log.Warn("Email test failed: %v", err)
		respondError(w, http.StatusBadGateway, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"meshmon/internal/collector"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// NodeSource is the slice of the collector the node endpoints use.
type NodeSource interface {
	GetNodesData() map[string]*models.NodeRecord
	GetNodeMessages(nodeID string, limit int) []models.NodeText
	ForgetNode(nodeID string, deleteLogs bool) error
}

type NodeHandler struct {
	nodes NodeSource
	log   *logger.Logger
}

func NewNodeHandler(nodes NodeSource, log *logger.Logger) *NodeHandler {
	return &NodeHandler{nodes: nodes, log: log}
}

func (h *NodeHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/nodes", h.ListNodes).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.GetNode).Methods("GET")
	r.HandleFunc("/nodes/{id}", h.ForgetNode).Methods("DELETE")
	r.HandleFunc("/nodes/{id}/messages", h.GetNodeMessages).Methods("GET")
}

func (h *NodeHandler) ListNodes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.nodes.GetNodesData())
}

func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := canonicalNodeID(mux.Vars(r)["id"])

	rec, ok := h.nodes.GetNodesData()[nodeID]
	if !ok {
		respondError(w, http.StatusNotFound, "node not found")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// ForgetNode removes a node from the registry. With ?delete_logs=true
// its CSV history goes too.
func (h *NodeHandler) ForgetNode(w http.ResponseWriter, r *http.Request) {
	nodeID := canonicalNodeID(mux.Vars(r)["id"])
	deleteLogs := r.URL.Query().Get("delete_logs") == "true"

	err := h.nodes.ForgetNode(nodeID, deleteLogs)
	switch {
	case errors.Is(err, collector.ErrNodeNotFound):
		respondError(w, http.StatusNotFound, "node not found")
		return
	case errors.Is(err, collector.ErrLocalNode):
		respondError(w, http.StatusBadRequest, "refusing to forget the local node")
		return
	case err != nil:
		h.log.Error("Failed to forget node %s: %v", nodeID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.Info("Node %s forgotten (delete_logs=%v)", nodeID, deleteLogs)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":      nodeID,
		"deleted_logs": deleteLogs,
	})
}

func (h *NodeHandler) GetNodeMessages(w http.ResponseWriter, r *http.Request) {
	nodeID := canonicalNodeID(mux.Vars(r)["id"])

	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	texts := h.nodes.GetNodeMessages(nodeID, limit)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"node_id":  nodeID,
		"messages": texts,
	})
}

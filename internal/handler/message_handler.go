package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"meshmon/internal/logger"
	"meshmon/internal/messages"
	"meshmon/internal/radio"
)

type MessageHandler struct {
	svc *messages.Service
	log *logger.Logger
}

func NewMessageHandler(svc *messages.Service, log *logger.Logger) *MessageHandler {
	return &MessageHandler{svc: svc, log: log}
}

func (h *MessageHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/messages", h.ListMessages).Methods("GET")
	r.HandleFunc("/messages", h.SendMessage).Methods("POST")
	r.HandleFunc("/messages/{id}/read", h.MarkRead).Methods("POST")
	r.HandleFunc("/messages/{id}/archive", h.ArchiveMessage).Methods("POST")
	r.HandleFunc("/messages/{id}", h.DeleteMessage).Methods("DELETE")
}

func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.Store().Messages())
}

type sendMessageRequest struct {
	To   []string `json:"to"`
	Text string   `json:"text"`
}

// SendMessage transmits text to the listed nodes, or to the whole mesh
// when the list is empty.
func (h *MessageHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	for i, id := range req.To {
		req.To[i] = canonicalNodeID(id)
	}

	msg, err := h.svc.Send(req.To, req.Text)
	switch {
	case errors.Is(err, messages.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "message text is empty")
		return
	case errors.Is(err, radio.ErrNotConnected):
		respondError(w, http.StatusServiceUnavailable, "radio not connected")
		return
	case err != nil:
		h.log.Warn("Send failed: %v", err)
		respondError(w, http.StatusBadGateway, "failed to transmit message")
		return
	}

	respondJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["id"]

	if err := h.svc.MarkReadAndAck(messageID); err != nil {
		if errors.Is(err, messages.ErrMessageNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		h.log.Error("Failed to mark message %s read: %v", messageID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "status": "read"})
}

func (h *MessageHandler) ArchiveMessage(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["id"]

	if err := h.svc.Store().Archive(messageID); err != nil {
		if errors.Is(err, messages.ErrMessageNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		h.log.Error("Failed to archive message %s: %v", messageID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "status": "archived"})
}

func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	messageID := mux.Vars(r)["id"]

	if err := h.svc.Store().Delete(messageID); err != nil {
		if errors.Is(err, messages.ErrMessageNotFound) {
			respondError(w, http.StatusNotFound, "message not found")
			return
		}
		h.log.Error("Failed to delete message %s: %v", messageID, err)
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "status": "deleted"})
}

// Package handler exposes the monitor over a small JSON API consumed
// by the desktop UI. Handlers hold narrow views of the collector,
// message service and alert engine; everything mutating goes through
// those owners, never directly to shared state.
package handler

import (
	"encoding/json"
	"net/http"
	"strings"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// An encode failure here means the client went away mid-write;
	// nothing useful left to do.
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}

// canonicalNodeID restores the "!" prefix that browsers and shells
// tend to strip or encode away.
func canonicalNodeID(id string) string {
	if id == "" || strings.HasPrefix(id, "!") {
		return id
	}
	return "!" + id
}

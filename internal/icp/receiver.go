package icp

import (
	"time"

	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// Receiver turns inbound status heartbeats into StatusReport updates
// for an injected per-node updater.
type Receiver struct {
	update func(models.StatusReport)
	log    *logger.Logger
}

func NewReceiver(update func(models.StatusReport), log *logger.Logger) *Receiver {
	return &Receiver{update: update, log: log.Component("icp")}
}

// Handle consumes one text payload. It returns true for anything
// carrying the status prefix, malformed included, so the caller stops
// treating it as chat; malformed heartbeats are logged and dropped.
func (r *Receiver) Handle(nodeID, text string, receivedAt time.Time) bool {
	if !IsStatusMessage(text) {
		return false
	}

	report, err := ParseStatus(nodeID, text, receivedAt)
	if err != nil {
		r.log.Warn("Ignoring malformed status from %s: %v", nodeID, err)
		return true
	}

	r.update(report)
	r.log.Debug("Status from %s: %s help=%v", nodeID, report.Status, report.NeedsHelp)
	return true
}

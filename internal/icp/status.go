// Package icp implements the self-status heartbeat: a compact
// [ICP-STATUS] envelope broadcast over the same plain-text channel as
// chat, independent of the message protocol. Field monitors use it to
// see at a glance which stations are healthy and which need a visit.
package icp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"meshmon/internal/models"
)

// StatusPrefix marks a status heartbeat on the text channel.
const StatusPrefix = "[ICP-STATUS]"

const (
	StatusGreen  = "GREEN"
	StatusYellow = "YELLOW"
	StatusRed    = "RED"
)

const (
	ReasonNodeBattery = "Node Battery"
	ReasonICPBattery  = "ICP Battery"
	ReasonTemperature = "Temperature"
)

// Compute derives the station status from the latest local telemetry.
// Thresholds: node battery <25% RED, <=50% YELLOW; external (Ch3)
// battery <3.5V RED, <4.0V YELLOW; temperature >45°C RED, >35°C or
// sub-zero YELLOW. Overall status is the worst contributor; reasons
// list RED contributors first. Metrics never reported are ignored.
func Compute(rec *models.NodeRecord) (status string, reasons []string) {
	var reds, yellows []string

	if rec != nil {
		if rec.BatteryLevel != nil {
			switch {
			case *rec.BatteryLevel < 25:
				reds = append(reds, ReasonNodeBattery)
			case *rec.BatteryLevel <= 50:
				yellows = append(yellows, ReasonNodeBattery)
			}
		}
		if rec.Ch3Voltage != nil {
			switch {
			case *rec.Ch3Voltage < 3.5:
				reds = append(reds, ReasonICPBattery)
			case *rec.Ch3Voltage < 4.0:
				yellows = append(yellows, ReasonICPBattery)
			}
		}
		if rec.Temperature != nil {
			switch {
			case *rec.Temperature > 45:
				reds = append(reds, ReasonTemperature)
			case *rec.Temperature > 35 || *rec.Temperature < 0:
				yellows = append(yellows, ReasonTemperature)
			}
		}
	}

	status = StatusGreen
	if len(yellows) > 0 {
		status = StatusYellow
	}
	if len(reds) > 0 {
		status = StatusRed
	}
	return status, append(reds, yellows...)
}

// FormatStatus builds the wire form:
//
//	[ICP-STATUS]RED|ICP Battery,Temperature|NO|1.0|1700000000
func FormatStatus(status string, reasons []string, needsHelp bool, version string, at time.Time) string {
	help := "NO"
	if needsHelp {
		help = "YES"
	}
	return StatusPrefix + status + "|" + strings.Join(reasons, ",") + "|" + help + "|" +
		version + "|" + strconv.FormatInt(at.Unix(), 10)
}

// IsStatusMessage reports whether text carries the status envelope.
func IsStatusMessage(text string) bool {
	return strings.HasPrefix(text, StatusPrefix)
}

// ParseStatus validates and normalizes one heartbeat. Field count and
// the status enum are checked; anything off is an error the caller
// logs and drops.
func ParseStatus(nodeID, text string, receivedAt time.Time) (models.StatusReport, error) {
	if !IsStatusMessage(text) {
		return models.StatusReport{}, fmt.Errorf("icp: not a status message")
	}

	parts := strings.Split(strings.TrimPrefix(text, StatusPrefix), "|")
	if len(parts) != 5 {
		return models.StatusReport{}, fmt.Errorf("icp: expected 5 fields, got %d", len(parts))
	}

	status := parts[0]
	switch status {
	case StatusGreen, StatusYellow, StatusRed:
	default:
		return models.StatusReport{}, fmt.Errorf("icp: invalid status %q", status)
	}

	var reasons []string
	if parts[1] != "" {
		reasons = strings.Split(parts[1], ",")
	}

	reportedAt, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return models.StatusReport{}, fmt.Errorf("icp: bad timestamp %q: %w", parts[4], err)
	}

	return models.StatusReport{
		NodeID:     nodeID,
		Status:     status,
		Reasons:    reasons,
		NeedsHelp:  parts[2] == "YES",
		Version:    parts[3],
		ReportedAt: reportedAt,
		ReceivedAt: receivedAt.Unix(),
	}, nil
}

// Package notify delivers alert notifications to external channels.
// Each channel implements Notifier; the alert engine fans triggered
// events out to every configured notifier and logs (but never
// propagates) delivery failures.
package notify

import "meshmon/internal/models"

// Notifier delivers one alert event to an external channel.
type Notifier interface {
	// Name identifies the channel in logs ("email", "slack").
	Name() string
	// Configured reports whether the channel has enough settings to
	// attempt delivery. Unconfigured channels are skipped silently.
	Configured() bool
	Send(event models.AlertEvent) error
}

// ruleTitle maps a rule name to the human title used in subjects.
func ruleTitle(rule string) string {
	switch rule {
	case models.RuleNodeOffline:
		return "Node Offline"
	case models.RuleLowBattery:
		return "Low Battery"
	case models.RuleHighTemperature:
		return "High Temperature"
	case models.RuleLowVoltage:
		return "Low Voltage"
	}
	return rule
}

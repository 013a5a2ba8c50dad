package models

import "time"

// Alert rule names. Thresholds and cooldowns live in config under
// alerts.rules.<name>.
const (
	RuleNodeOffline     = "node_offline"
	RuleLowBattery      = "low_battery"
	RuleHighTemperature = "high_temperature"
	RuleLowVoltage      = "low_voltage"
)

// AlertEvent is one triggered (or test) alert, handed to notifiers and
// published to the WS hub / MQTT uplink / archive.
type AlertEvent struct {
	ID          string    `json:"id"`
	Rule        string    `json:"rule"`
	NodeID      string    `json:"node_id"`
	NodeName    string    `json:"node_name"`
	Message     string    `json:"message"`
	Value       float64   `json:"value"`
	Threshold   float64   `json:"threshold"`
	TriggeredAt time.Time `json:"triggered_at"`
	Test        bool      `json:"test"`
}

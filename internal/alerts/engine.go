// Package alerts evaluates per-node threshold rules against registry
// snapshots and fans triggered events out to the configured notifiers.
// At most one notification fires per (rule, node) per cooldown window.
package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/notify"
)

// defaultGraceMinutes suppresses notifications for a window after
// startup so a restart does not fire a burst of false offline alerts
// for nodes the monitor simply has not heard from yet.
const defaultGraceMinutes = 10

// ruleSpec is the static shape of one rule; thresholds and cooldowns
// are read live from config under alerts.rules.<name>.
type ruleSpec struct {
	name             string
	thresholdField   string
	defaultThreshold float64
	defaultCooldown  int // minutes
	defaultEnabled   bool
}

var ruleSpecs = []ruleSpec{
	{models.RuleNodeOffline, "threshold_seconds", 600, 30, true},
	{models.RuleLowBattery, "threshold_percent", 20, 60, true},
	{models.RuleHighTemperature, "threshold_celsius", 40, 15, false},
	{models.RuleLowVoltage, "threshold_volts", 3.2, 30, false},
}

// Engine owns alert evaluation state: per-(rule,node) cooldowns, the
// check-interval gate and the startup grace window.
type Engine struct {
	cfg          *config.Manager
	log          *logger.Logger
	notifiers    []notify.Notifier
	profilesPath string

	mu        sync.Mutex
	lastCheck time.Time
	startedAt time.Time
	cooldowns map[string]time.Time
	onAlert   func(models.AlertEvent)

	grace time.Duration
	now   func() time.Time
}

func NewEngine(cfg *config.Manager, profilesPath string, notifiers []notify.Notifier, log *logger.Logger) *Engine {
	grace := time.Duration(cfg.GetInt("alerts.startup_grace_minutes", defaultGraceMinutes)) * time.Minute
	return &Engine{
		cfg:          cfg,
		log:          log.Component("alerts"),
		notifiers:    notifiers,
		profilesPath: profilesPath,
		startedAt:    time.Now(),
		cooldowns:    make(map[string]time.Time),
		grace:        grace,
		now:          time.Now,
	}
}

// SetAlertCallback registers an extra sink (websocket hub, MQTT uplink,
// archive) invoked for every emitted event, tests included.
func (e *Engine) SetAlertCallback(fn func(models.AlertEvent)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAlert = fn
}

// RuleSetting is the effective configuration of one rule, defaults
// merged with config. Per-node overrides are not reflected here.
type RuleSetting struct {
	Name            string  `json:"name"`
	Enabled         bool    `json:"enabled"`
	ThresholdField  string  `json:"threshold_field"`
	Threshold       float64 `json:"threshold"`
	CooldownMinutes int     `json:"cooldown_minutes"`
}

// Rules reports the current settings for every known rule.
func (e *Engine) Rules() []RuleSetting {
	out := make([]RuleSetting, 0, len(ruleSpecs))
	for _, spec := range ruleSpecs {
		out = append(out, RuleSetting{
			Name:            spec.name,
			Enabled:         e.cfg.GetBool("alerts.rules."+spec.name+".enabled", spec.defaultEnabled),
			ThresholdField:  spec.thresholdField,
			Threshold:       e.cfg.GetFloat("alerts.rules."+spec.name+"."+spec.thresholdField, spec.defaultThreshold),
			CooldownMinutes: e.cfg.GetInt("alerts.rules."+spec.name+".cooldown_minutes", spec.defaultCooldown),
		})
	}
	return out
}

// CheckAlerts evaluates every enabled rule against the snapshot. It
// returns the triggered events, or nil when gated off (disabled, check
// interval not yet elapsed, or still inside the startup grace window).
func (e *Engine) CheckAlerts(snapshot map[string]*models.NodeRecord) []models.AlertEvent {
	if !e.cfg.GetBool("alerts.enabled", true) {
		return nil
	}

	now := e.now()
	interval := time.Duration(e.cfg.GetInt("alerts.check_interval_seconds", 60)) * time.Second

	e.mu.Lock()
	if !e.lastCheck.IsZero() && now.Sub(e.lastCheck) < interval {
		e.mu.Unlock()
		return nil
	}
	e.lastCheck = now
	e.mu.Unlock()

	if since := now.Sub(e.startedAt); since < e.grace {
		e.log.Info("Alert check skipped, startup grace active (%.0fs remaining)", (e.grace - since).Seconds())
		return nil
	}

	ov := loadOverrides(e.profilesPath, e.log)

	nodeIDs := make([]string, 0, len(snapshot))
	for id := range snapshot {
		nodeIDs = append(nodeIDs, id)
	}
	sort.Strings(nodeIDs)

	var triggered []models.AlertEvent
	for _, nodeID := range nodeIDs {
		rec := snapshot[nodeID]
		if rec == nil {
			continue
		}
		for _, spec := range ruleSpecs {
			if !e.cfg.GetBool("alerts.rules."+spec.name+".enabled", spec.defaultEnabled) {
				continue
			}
			if !e.cooldownAllows(spec, nodeID, now) {
				continue
			}

			threshold := e.threshold(spec, nodeID, ov)
			value, message, fired := evaluate(spec.name, rec, nodeID, threshold, now)
			if !fired {
				continue
			}

			e.markCooldown(spec, nodeID, now)
			event := models.AlertEvent{
				ID:          uuid.NewString(),
				Rule:        spec.name,
				NodeID:      nodeID,
				NodeName:    rec.DisplayName(nodeID),
				Message:     message,
				Value:       value,
				Threshold:   threshold,
				TriggeredAt: now,
			}
			e.log.Warn("ALERT %s: %s", spec.name, message)
			e.emit(event)
			triggered = append(triggered, event)
		}
	}
	return triggered
}

// SendTestAlert builds a rule-appropriate message from the node's
// current values (not compared against thresholds) and pushes it
// through the same notifiers, marked as a drill.
func (e *Engine) SendTestAlert(rule, nodeID string, rec *models.NodeRecord) error {
	spec, ok := specFor(rule)
	if !ok {
		return fmt.Errorf("alerts: unknown rule %q", rule)
	}
	if rec == nil {
		rec = models.NewNodeRecord()
	}

	now := e.now()
	threshold := e.threshold(spec, nodeID, loadOverrides(e.profilesPath, e.log))
	value, message := testValues(spec.name, rec, nodeID, now)

	event := models.AlertEvent{
		ID:          uuid.NewString(),
		Rule:        spec.name,
		NodeID:      nodeID,
		NodeName:    rec.DisplayName(nodeID),
		Message:     message,
		Value:       value,
		Threshold:   threshold,
		TriggeredAt: now,
		Test:        true,
	}

	configured := 0
	var firstErr error
	for _, n := range e.notifiers {
		if !n.Configured() {
			continue
		}
		configured++
		if err := n.Send(event); err != nil {
			e.log.Error("Test alert via %s failed: %v", n.Name(), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if configured == 0 {
		return fmt.Errorf("alerts: no notification channel is configured")
	}
	if firstErr != nil {
		return fmt.Errorf("failed to send test alert: %w", firstErr)
	}

	e.callback(event)
	e.log.Info("Test alert sent for rule %s, node %s", rule, nodeID)
	return nil
}

// emit delivers one event to every configured notifier and the
// callback. Notification failures are logged, never propagated: one
// dead SMTP server must not stop the check loop.
func (e *Engine) emit(event models.AlertEvent) {
	for _, n := range e.notifiers {
		if !n.Configured() {
			continue
		}
		if err := n.Send(event); err != nil {
			e.log.Error("Failed to send %s notification for %s: %v", n.Name(), event.Rule, err)
		}
	}
	e.callback(event)
}

func (e *Engine) callback(event models.AlertEvent) {
	e.mu.Lock()
	fn := e.onAlert
	e.mu.Unlock()
	if fn != nil {
		fn(event)
	}
}

func (e *Engine) cooldownAllows(spec ruleSpec, nodeID string, now time.Time) bool {
	cooldown := time.Duration(e.cfg.GetInt("alerts.rules."+spec.name+".cooldown_minutes", spec.defaultCooldown)) * time.Minute

	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.cooldowns[spec.name+"|"+nodeID]
	return !ok || now.Sub(last) >= cooldown
}

func (e *Engine) markCooldown(spec ruleSpec, nodeID string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cooldowns[spec.name+"|"+nodeID] = now
}

func (e *Engine) threshold(spec ruleSpec, nodeID string, ov overrides) float64 {
	if v, ok := ov.threshold(nodeID, spec.name, spec.thresholdField); ok {
		return v
	}
	return e.cfg.GetFloat("alerts.rules."+spec.name+"."+spec.thresholdField, spec.defaultThreshold)
}

func specFor(rule string) (ruleSpec, bool) {
	for _, spec := range ruleSpecs {
		if spec.name == rule {
			return spec, true
		}
	}
	return ruleSpec{}, false
}

// evaluate applies one rule to one node. Nodes that never reported the
// relevant metric are skipped rather than treated as zero.
func evaluate(rule string, rec *models.NodeRecord, nodeID string, threshold float64, now time.Time) (value float64, message string, fired bool) {
	name := rec.DisplayName(nodeID)

	switch rule {
	case models.RuleNodeOffline:
		if rec.LastHeard == nil || *rec.LastHeard == 0 {
			return 0, "", false
		}
		value = float64(now.Unix() - *rec.LastHeard)
		if value > threshold {
			return value, fmt.Sprintf("%s (%s) has been offline for %.0f seconds (threshold %.0f)",
				name, nodeID, value, threshold), true
		}

	case models.RuleLowBattery:
		if rec.BatteryLevel == nil {
			return 0, "", false
		}
		value = *rec.BatteryLevel
		if value < threshold {
			return value, fmt.Sprintf("%s (%s) battery at %.0f%% (threshold %.0f%%)",
				name, nodeID, value, threshold), true
		}

	case models.RuleHighTemperature:
		if rec.Temperature == nil {
			return 0, "", false
		}
		value = *rec.Temperature
		if value > threshold {
			return value, fmt.Sprintf("%s (%s) temperature at %.1f°C (threshold %.1f°C)",
				name, nodeID, value, threshold), true
		}

	case models.RuleLowVoltage:
		if rec.Ch3Voltage == nil {
			return 0, "", false
		}
		value = *rec.Ch3Voltage
		if value < threshold {
			return value, fmt.Sprintf("%s (%s) external battery at %.2fV (threshold %.2fV)",
				name, nodeID, value, threshold), true
		}
	}
	return value, "", false
}

// testValues mirrors evaluate's wording using whatever the node
// currently reports, without any threshold comparison.
func testValues(rule string, rec *models.NodeRecord, nodeID string, now time.Time) (float64, string) {
	name := rec.DisplayName(nodeID)

	switch rule {
	case models.RuleNodeOffline:
		var age float64
		if rec.LastHeard != nil && *rec.LastHeard > 0 {
			age = float64(now.Unix() - *rec.LastHeard)
		}
		return age, fmt.Sprintf("%s (%s) last heard %.0f seconds ago", name, nodeID, age)

	case models.RuleLowBattery:
		var level float64
		if rec.BatteryLevel != nil {
			level = *rec.BatteryLevel
		}
		return level, fmt.Sprintf("%s (%s) battery at %.0f%%", name, nodeID, level)

	case models.RuleHighTemperature:
		var temp float64
		if rec.Temperature != nil {
			temp = *rec.Temperature
		}
		return temp, fmt.Sprintf("%s (%s) temperature at %.1f°C", name, nodeID, temp)

	case models.RuleLowVoltage:
		var volts float64
		if rec.Ch3Voltage != nil {
			volts = *rec.Ch3Voltage
		}
		return volts, fmt.Sprintf("%s (%s) external battery at %.2fV", name, nodeID, volts)
	}
	return 0, ""
}

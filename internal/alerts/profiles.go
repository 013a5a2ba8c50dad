package alerts

import (
	"encoding/json"
	"errors"
	"os"

	"meshmon/internal/logger"
)

// profilesFile is the shape of config/node_profiles.json:
//
//	{"node_overrides": {"!a20a0de0": {"alert_overrides": {"low_battery": {"threshold_percent": 35}}}}}
type profilesFile struct {
	NodeOverrides map[string]struct {
		AlertOverrides map[string]map[string]float64 `json:"alert_overrides"`
	} `json:"node_overrides"`
}

// overrides maps node id → rule → threshold-field → value.
type overrides map[string]map[string]map[string]float64

// threshold returns the per-node override for one rule field, if any.
func (o overrides) threshold(nodeID, rule, field string) (float64, bool) {
	rules, ok := o[nodeID]
	if !ok {
		return 0, false
	}
	fields, ok := rules[rule]
	if !ok {
		return 0, false
	}
	v, ok := fields[field]
	return v, ok
}

// loadOverrides reads the node-profile file. A missing file is the
// normal case (no overrides); a corrupt one is logged and ignored so a
// bad edit cannot stop alerting.
func loadOverrides(path string, log *logger.Logger) overrides {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		log.Warn("Failed to read node profiles %s: %v", path, err)
		return nil
	}

	var file profilesFile
	if err := json.Unmarshal(data, &file); err != nil {
		log.Warn("Node profiles %s are corrupt, using global thresholds: %v", path, err)
		return nil
	}

	out := make(overrides, len(file.NodeOverrides))
	for nodeID, entry := range file.NodeOverrides {
		out[nodeID] = entry.AlertOverrides
	}
	return out
}

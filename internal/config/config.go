// internal/config/config.go

// Package config holds the application's JSON configuration tree with
// dot-path access, e.g. Get("alerts.rules.node_offline.enabled"). Defaults
// are deep-merged into the loaded file so new settings appear in
// config/app_config.json after an upgrade without clobbering user edits.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"meshmon/internal/logger"
)

type Manager struct {
	mu   sync.Mutex
	path string
	data map[string]interface{}
	log  *logger.Logger
}

func NewManager(path string, log *logger.Logger) (*Manager, error) {
	m := &Manager{
		path: path,
		log:  log,
	}

	if err := m.load(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return m, nil
}

func (m *Manager) load() error {
	m.data = defaultConfig()

	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		m.log.Info("No config file at %s, writing defaults", m.path)
		return m.save()
	}
	if err != nil {
		return err
	}

	var loaded map[string]interface{}
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return fmt.Errorf("parse %s: %w", m.path, err)
	}

	added := mergeDefaults(loaded, m.data)
	m.data = loaded

	if added > 0 {
		m.log.Info("Config: merged %d default setting(s) into %s", added, m.path)
		return m.save()
	}
	return nil
}

// mergeDefaults copies any default key missing from dst, recursing into
// nested objects. Returns the number of keys added.
func mergeDefaults(dst, defaults map[string]interface{}) int {
	added := 0
	for key, defVal := range defaults {
		cur, ok := dst[key]
		if !ok {
			dst[key] = defVal
			added++
			continue
		}
		curMap, curIsMap := cur.(map[string]interface{})
		defMap, defIsMap := defVal.(map[string]interface{})
		if curIsMap && defIsMap {
			added += mergeDefaults(curMap, defMap)
		}
	}
	return added
}

// Get returns the value at a dot-separated path, or nil if absent.
func (m *Manager) Get(path string) interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return lookup(m.data, path)
}

func lookup(tree map[string]interface{}, path string) interface{} {
	parts := strings.Split(path, ".")
	cur := interface{}(tree)
	for _, part := range parts {
		node, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = node[part]
		if !ok {
			return nil
		}
	}
	return cur
}

func (m *Manager) GetString(path, fallback string) string {
	if v, ok := m.Get(path).(string); ok {
		return v
	}
	return fallback
}

func (m *Manager) GetInt(path string, fallback int) int {
	switch v := m.Get(path).(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return fallback
}

func (m *Manager) GetFloat(path string, fallback float64) float64 {
	switch v := m.Get(path).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return fallback
}

func (m *Manager) GetBool(path string, fallback bool) bool {
	if v, ok := m.Get(path).(bool); ok {
		return v
	}
	return fallback
}

func (m *Manager) GetStringSlice(path string) []string {
	switch raw := m.Get(path).(type) {
	case []string:
		out := make([]string, len(raw))
		copy(out, raw)
		return out
	case []interface{}:
		out := make([]string, 0, len(raw))
		for _, item := range raw {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Set writes a value at a dot-separated path, creating intermediate
// objects as needed, and persists the tree immediately.
func (m *Manager) Set(path string, value interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	parts := strings.Split(path, ".")
	node := m.data
	for _, part := range parts[:len(parts)-1] {
		next, ok := node[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			node[part] = next
		}
		node = next
	}
	node[parts[len(parts)-1]] = value

	return m.save()
}

func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// save writes the tree via temp file + rename so a crash mid-write never
// leaves a truncated config. Callers must hold m.mu.
func (m *Manager) save() error {
	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

func (m *Manager) Validate() error {
	var errors []string

	ifaceType := m.GetString("meshtastic.interface.type", "")
	if ifaceType != "tcp" && ifaceType != "serial" {
		errors = append(errors, fmt.Sprintf("meshtastic.interface.type must be tcp or serial, got %q", ifaceType))
	}

	if port := m.GetInt("meshtastic.interface.port", 0); ifaceType == "tcp" && (port < 1 || port > 65535) {
		errors = append(errors, "meshtastic.interface.port must be between 1 and 65535")
	}

	if retry := m.GetInt("meshtastic.retry_interval", 0); retry < 1 {
		errors = append(errors, "meshtastic.retry_interval must be at least 1 second")
	}

	if port := m.GetInt("server.port", 0); port < 1 || port > 65535 {
		errors = append(errors, "server.port must be between 1 and 65535")
	}

	if retain := m.GetInt("data.retain_days", 0); retain < 1 {
		errors = append(errors, "data.retain_days must be at least 1")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

func (m *Manager) Print() {
	fmt.Println("╔══════════════════════════════════════════════════════════╗")
	fmt.Println("║              meshmon - Configuration                     ║")
	fmt.Println("╚══════════════════════════════════════════════════════════╝")
	ifaceType := m.GetString("meshtastic.interface.type", "tcp")
	if ifaceType == "serial" {
		fmt.Printf("Radio:           serial %s @ %d baud\n",
			m.GetString("meshtastic.interface.port", ""), m.GetInt("meshtastic.interface.baud", 115200))
	} else {
		fmt.Printf("Radio:           tcp %s:%d\n",
			m.GetString("meshtastic.interface.host", ""), m.GetInt("meshtastic.interface.port", 4403))
	}
	fmt.Printf("Data file:       %s\n", m.GetString("data.data_file", "latest_data.json"))
	fmt.Printf("Log directory:   %s\n", m.GetString("data.log_directory", "logs"))
	fmt.Printf("Alerts:          enabled=%v email=%v\n",
		m.GetBool("alerts.enabled", true), m.GetBool("alerts.email_enabled", false))
	fmt.Printf("API server:      %s:%d\n",
		m.GetString("server.host", "127.0.0.1"), m.GetInt("server.port", 8420))
	fmt.Println("──────────────────────────────────────────────────────────")
}

func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"meshtastic": map[string]interface{}{
			"interface": map[string]interface{}{
				"type": "tcp",
				"host": "192.168.1.91",
				"port": 4403,
				"baud": 115200,
			},
			"connection_timeout": 30,
			"retry_interval":     60,
		},
		"data": map[string]interface{}{
			"data_file":     "latest_data.json",
			"log_directory": "logs",
			"retain_days":   30,
		},
		"alerts": map[string]interface{}{
			"enabled":                true,
			"check_interval_seconds": 60,
			"startup_grace_minutes":  10,
			"email_enabled":          false,
			"email": map[string]interface{}{
				"smtp_server":  "smtp.mail.me.com",
				"smtp_port":    587,
				"username":     "",
				"password":     "",
				"from_address": "",
				"to_addresses": []interface{}{},
			},
			"slack": map[string]interface{}{
				"webhook_url": "",
			},
			"rules": map[string]interface{}{
				"node_offline": map[string]interface{}{
					"enabled":           true,
					"threshold_seconds": 600,
					"cooldown_minutes":  30,
				},
				"low_battery": map[string]interface{}{
					"enabled":           true,
					"threshold_percent": 20,
					"cooldown_minutes":  60,
				},
				"high_temperature": map[string]interface{}{
					"enabled":           false,
					"threshold_celsius": 40,
					"cooldown_minutes":  15,
				},
				"low_voltage": map[string]interface{}{
					"enabled":          false,
					"threshold_volts":  3.2,
					"cooldown_minutes": 30,
				},
			},
		},
		"messages": map[string]interface{}{
			"store_file": "config/messages.json",
		},
		"icp": map[string]interface{}{
			"version":                    "1.0",
			"broadcast_interval_minutes": 15,
		},
		"server": map[string]interface{}{
			"host":                  "127.0.0.1",
			"port":                  8420,
			"cors_allowed_origins":  []interface{}{"*"},
			"enable_rate_limit":     false,
			"rate_limit_per_minute": 120,
		},
		"uplink": map[string]interface{}{
			"enabled":                  false,
			"broker":                   "localhost",
			"broker_port":              1883,
			"client_id":                "meshmond",
			"topic_prefix":             "meshmon",
			"username":                 "",
			"password":                 "",
			"publish_interval_seconds": 60,
		},
		"archive": map[string]interface{}{
			"enabled": false,
			"dsn":     "",
		},
		"reports": map[string]interface{}{
			"enabled":    false,
			"schedule":   "0 8 * * *",
			"output_dir": "reports",
		},
	}
}

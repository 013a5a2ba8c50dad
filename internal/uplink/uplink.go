// Package uplink mirrors collected state out to an MQTT broker so
// dashboards and downstream automations can follow the mesh without
// talking to the monitor's HTTP API. Node snapshots, alert events and
// connection transitions each get their own topic under a configurable
// prefix, and a retained last-will message flips the monitor's status
// to offline if the process dies without a clean shutdown.
package uplink

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/radio"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second

	// qosAtLeastOnce is used for everything we publish; droppable
	// telemetry mirrors do not justify QoS 2 overhead.
	qosAtLeastOnce byte = 1
)

// pahoClient is the slice of mqtt.Client the publisher needs. Tests
// swap in a fake through the newClient seam.
type pahoClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// statusMessage is published retained on <prefix>/status. State is
// "online" while the monitor runs and "offline" via the broker's
// last-will (or a clean shutdown). Radio carries the upstream link
// state when known.
type statusMessage struct {
	State string                   `json:"state"`
	Radio *models.ConnectionStatus `json:"radio,omitempty"`
	Time  int64                    `json:"time"`
}

// Publisher pushes monitor state to an MQTT broker. All methods are
// no-ops returning nil until Connect succeeds; callers gate on
// Enabled() and treat publish errors as log-and-continue.
type Publisher struct {
	cfg *config.Manager
	log *logger.Logger

	prefix string
	client pahoClient

	// newClient is swapped in tests.
	newClient func(opts *mqtt.ClientOptions) pahoClient

	now func() time.Time
}

func NewPublisher(cfg *config.Manager, log *logger.Logger) *Publisher {
	return &Publisher{
		cfg:    cfg,
		log:    log.Component("uplink"),
		prefix: cfg.GetString("uplink.topic_prefix", "meshmon"),
		newClient: func(opts *mqtt.ClientOptions) pahoClient {
			return mqtt.NewClient(opts)
		},
		now: time.Now,
	}
}

// Enabled reports whether the uplink should run at all.
func (p *Publisher) Enabled() bool {
	return p.cfg.GetBool("uplink.enabled", false)
}

// Connect dials the configured broker and announces the monitor as
// online. The broker holds a retained offline status as our last will,
// so consumers see the flip even when we crash.
func (p *Publisher) Connect() error {
	broker := p.cfg.GetString("uplink.broker", "localhost")
	port := p.cfg.GetInt("uplink.broker_port", 1883)
	clientID := p.cfg.GetString("uplink.client_id", "meshmond")

	will, err := json.Marshal(statusMessage{State: "offline", Time: p.now().Unix()})
	if err != nil {
		return fmt.Errorf("failed to encode will message: %w", err)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port))
	opts.SetClientID(clientID)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetWill(p.topic("status"), string(will), qosAtLeastOnce, true)

	if username := p.cfg.GetString("uplink.username", ""); username != "" {
		opts.SetUsername(username)
		opts.SetPassword(p.cfg.GetString("uplink.password", ""))
	}

	opts.SetOnConnectHandler(p.onConnect)
	opts.SetConnectionLostHandler(p.onConnectionLost)
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		p.log.Info("Reconnecting to MQTT broker...")
	})

	p.client = p.newClient(opts)

	p.log.Info("Connecting to MQTT broker %s:%d as %s", broker, port, clientID)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("uplink connection timeout after %v", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect uplink broker: %w", err)
	}
	return nil
}

// Disconnect retracts the retained online status and closes the broker
// connection. Safe to call when Connect never ran.
func (p *Publisher) Disconnect() {
	if p.client == nil {
		return
	}
	// Clean shutdowns bypass the last will, so publish the offline
	// state ourselves before dropping the link.
	if p.client.IsConnected() {
		if err := p.publishJSON(p.topic("status"), statusMessage{State: "offline", Time: p.now().Unix()}, true); err != nil {
			p.log.Warn("Failed to publish offline status: %v", err)
		}
	}
	p.client.Disconnect(250)
	p.log.Info("Uplink disconnected")
}

func (p *Publisher) IsConnected() bool {
	return p.client != nil && p.client.IsConnected()
}

// PublishNodes mirrors the node registry, one retained message per
// node under <prefix>/nodes/<id-without-bang>. Publish failures abort
// the fan-out; the next snapshot repairs any gap.
func (p *Publisher) PublishNodes(nodes map[string]*models.NodeRecord) error {
	for id, rec := range nodes {
		if rec == nil {
			continue
		}
		if err := p.publishJSON(p.topic("nodes", radio.ShortID(id)), rec, true); err != nil {
			return fmt.Errorf("failed to publish node %s: %w", id, err)
		}
	}
	return nil
}

// PublishAlert pushes a triggered alert to <prefix>/alerts. Alerts are
// events, not state, so they are not retained.
func (p *Publisher) PublishAlert(event models.AlertEvent) error {
	if err := p.publishJSON(p.topic("alerts"), event, false); err != nil {
		return fmt.Errorf("failed to publish alert %s: %w", event.Rule, err)
	}
	return nil
}

// PublishConnection announces a radio link transition on
// <prefix>/status, retained so late subscribers see the current state.
func (p *Publisher) PublishConnection(status models.ConnectionStatus) error {
	msg := statusMessage{State: "online", Radio: &status, Time: p.now().Unix()}
	if err := p.publishJSON(p.topic("status"), msg, true); err != nil {
		return fmt.Errorf("failed to publish connection status: %w", err)
	}
	return nil
}

func (p *Publisher) publishJSON(topic string, v interface{}, retain bool) error {
	if p.client == nil {
		return fmt.Errorf("uplink not connected")
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	token := p.client.Publish(topic, qosAtLeastOnce, retain, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed for topic %s: %w", topic, err)
	}
	return nil
}

func (p *Publisher) topic(parts ...string) string {
	out := p.prefix
	for _, part := range parts {
		out += "/" + part
	}
	return out
}

func (p *Publisher) onConnect(_ mqtt.Client) {
	p.log.Info("Connected to MQTT broker")
	if err := p.publishJSON(p.topic("status"), statusMessage{State: "online", Time: p.now().Unix()}, true); err != nil {
		p.log.Warn("Failed to announce online status: %v", err)
	}
}

func (p *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	p.log.Warn("MQTT connection lost: %v", err)
}

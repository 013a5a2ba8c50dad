package uplink

import (
	"encoding/json"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// --- fakes ---

type fakeToken struct {
	timedOut bool
	err      error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return !t.timedOut }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type publishedMsg struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeBroker struct {
	mu sync.Mutex

	opts *mqtt.ClientOptions

	connectToken *fakeToken
	publishToken *fakeToken
	connected    bool

	published  []publishedMsg
	disconnect []uint
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{connectToken: &fakeToken{}, publishToken: &fakeToken{}}
}

func (f *fakeBroker) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectToken.err == nil && !f.connectToken.timedOut {
		f.connected = true
	}
	return f.connectToken
}

func (f *fakeBroker) Disconnect(quiesce uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnect = append(f.disconnect, quiesce)
}

func (f *fakeBroker) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, publishedMsg{topic: topic, retained: retained, payload: payload.([]byte)})
	return f.publishToken
}

func (f *fakeBroker) messages() []publishedMsg {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]publishedMsg, len(f.published))
	copy(out, f.published)
	return out
}

// --- helpers ---

func testLog(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: logger.FATAL, UseColors: false})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func testCfg(t *testing.T) *config.Manager {
	t.Helper()
	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "app_config.json"), testLog(t))
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return cfg
}

func set(t *testing.T, cfg *config.Manager, path string, value interface{}) {
	t.Helper()
	if err := cfg.Set(path, value); err != nil {
		t.Fatalf("cfg.Set(%s): %v", path, err)
	}
}

func testPublisher(t *testing.T, cfg *config.Manager) (*Publisher, *fakeBroker) {
	t.Helper()
	fb := newFakeBroker()
	p := NewPublisher(cfg, testLog(t))
	p.newClient = func(opts *mqtt.ClientOptions) pahoClient {
		fb.opts = opts
		return fb
	}
	return p, fb
}

func connectedPublisher(t *testing.T, cfg *config.Manager) (*Publisher, *fakeBroker) {
	t.Helper()
	p, fb := testPublisher(t, cfg)
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return p, fb
}

// --- configuration and connect ---

func TestPublisher_DisabledByDefault(t *testing.T) {
	p, _ := testPublisher(t, testCfg(t))
	if p.Enabled() {
		t.Fatal("uplink should be disabled by default")
	}
}

func TestConnect_BuildsOptionsFromConfig(t *testing.T) {
	cfg := testCfg(t)
	set(t, cfg, "uplink.broker", "mqtt.example")
	set(t, cfg, "uplink.broker_port", 1884)
	set(t, cfg, "uplink.client_id", "meshmond-test")
	set(t, cfg, "uplink.username", "monitor")
	set(t, cfg, "uplink.password", "s3cret")

	_, fb := connectedPublisher(t, cfg)

	if fb.opts == nil {
		t.Fatal("client options were never built")
	}
	if len(fb.opts.Servers) != 1 || fb.opts.Servers[0].String() != "tcp://mqtt.example:1884" {
		t.Fatalf("unexpected broker servers: %v", fb.opts.Servers)
	}
	if fb.opts.ClientID != "meshmond-test" {
		t.Fatalf("ClientID = %q", fb.opts.ClientID)
	}
	if fb.opts.Username != "monitor" || fb.opts.Password != "s3cret" {
		t.Fatalf("credentials not applied: %q/%q", fb.opts.Username, fb.opts.Password)
	}
	if !fb.opts.AutoReconnect || !fb.opts.CleanSession {
		t.Fatal("expected auto-reconnect with clean sessions")
	}
}

func TestConnect_SetsOfflineLastWill(t *testing.T) {
	_, fb := connectedPublisher(t, testCfg(t))

	if !fb.opts.WillEnabled {
		t.Fatal("last will not enabled")
	}
	if fb.opts.WillTopic != "meshmon/status" {
		t.Fatalf("will topic = %q", fb.opts.WillTopic)
	}
	if !fb.opts.WillRetained {
		t.Fatal("will message should be retained")
	}
	var msg statusMessage
	if err := json.Unmarshal(fb.opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload is not JSON: %v", err)
	}
	if msg.State != "offline" {
		t.Fatalf("will state = %q, want offline", msg.State)
	}
}

func TestConnect_AnonymousWhenNoUsername(t *testing.T) {
	_, fb := connectedPublisher(t, testCfg(t))
	if fb.opts.Username != "" || fb.opts.Password != "" {
		t.Fatalf("expected anonymous connection, got %q/%q", fb.opts.Username, fb.opts.Password)
	}
}

func TestConnect_ReportsTimeout(t *testing.T) {
	p, fb := testPublisher(t, testCfg(t))
	fb.connectToken.timedOut = true

	err := p.Connect()
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestConnect_WrapsBrokerError(t *testing.T) {
	p, fb := testPublisher(t, testCfg(t))
	fb.connectToken.err = mqtt.ErrNotConnected

	err := p.Connect()
	if err == nil || !strings.Contains(err.Error(), "failed to connect uplink broker") {
		t.Fatalf("expected wrapped connect error, got %v", err)
	}
}

// --- publishing ---

func TestOnConnect_AnnouncesOnline(t *testing.T) {
	_, fb := connectedPublisher(t, testCfg(t))

	// Paho fires OnConnect from its own goroutine; drive it directly.
	fb.opts.OnConnect(nil)

	msgs := fb.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "meshmon/status" || !msgs[0].retained {
		t.Fatalf("unexpected status publish: %+v", msgs[0])
	}
	var msg statusMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.State != "online" {
		t.Fatalf("state = %q, want online", msg.State)
	}
}

func TestPublishNodes_FansOutPerNode(t *testing.T) {
	p, fb := connectedPublisher(t, testCfg(t))

	ridge := models.NewNodeRecord()
	ridge.LongName = "Ridge Repeater"
	gate := models.NewNodeRecord()
	gate.LongName = "Gate Sensor"

	err := p.PublishNodes(map[string]*models.NodeRecord{
		"!a20a0de0": ridge,
		"!deadbeef": gate,
		"!00000000": nil,
	})
	if err != nil {
		t.Fatalf("PublishNodes: %v", err)
	}

	byTopic := map[string]publishedMsg{}
	for _, m := range fb.messages() {
		byTopic[m.topic] = m
	}
	if len(byTopic) != 2 {
		t.Fatalf("published to %d topics, want 2: %v", len(byTopic), byTopic)
	}

	msg, ok := byTopic["meshmon/nodes/a20a0de0"]
	if !ok {
		t.Fatalf("no publish for ridge node: %v", byTopic)
	}
	if !msg.retained {
		t.Fatal("node snapshots should be retained")
	}
	if !strings.Contains(string(msg.payload), "Ridge Repeater") {
		t.Fatalf("payload missing node name: %s", msg.payload)
	}
	if _, ok := byTopic["meshmon/nodes/deadbeef"]; !ok {
		t.Fatalf("no publish for gate node: %v", byTopic)
	}
}

func TestPublishAlert_NotRetained(t *testing.T) {
	p, fb := connectedPublisher(t, testCfg(t))

	event := models.AlertEvent{
		ID:       "ev-1",
		Rule:     models.RuleNodeOffline,
		NodeID:   "!a20a0de0",
		NodeName: "Ridge Repeater",
		Message:  "Node Ridge Repeater offline",
	}
	if err := p.PublishAlert(event); err != nil {
		t.Fatalf("PublishAlert: %v", err)
	}

	msgs := fb.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "meshmon/alerts" {
		t.Fatalf("topic = %q", msgs[0].topic)
	}
	if msgs[0].retained {
		t.Fatal("alerts must not be retained")
	}
	var got models.AlertEvent
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got.Rule != models.RuleNodeOffline || got.NodeID != "!a20a0de0" {
		t.Fatalf("unexpected event payload: %+v", got)
	}
}

func TestPublishConnection_RetainedWithRadioState(t *testing.T) {
	cfg := testCfg(t)
	set(t, cfg, "uplink.topic_prefix", "backhaul")
	p, fb := connectedPublisher(t, cfg)

	status := models.ConnectionStatus{
		Connected: true,
		Interface: &models.InterfaceInfo{Type: "tcp", Host: "192.168.1.91", Port: 4403},
	}
	if err := p.PublishConnection(status); err != nil {
		t.Fatalf("PublishConnection: %v", err)
	}

	msgs := fb.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "backhaul/status" || !msgs[0].retained {
		t.Fatalf("unexpected status publish: %+v", msgs[0])
	}
	var msg statusMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.State != "online" || msg.Radio == nil || !msg.Radio.Connected {
		t.Fatalf("unexpected status message: %+v", msg)
	}
	if msg.Radio.Interface == nil || msg.Radio.Interface.Host != "192.168.1.91" {
		t.Fatalf("radio interface not carried: %+v", msg.Radio)
	}
}

func TestPublish_FailsBeforeConnect(t *testing.T) {
	p, _ := testPublisher(t, testCfg(t))
	if err := p.PublishAlert(models.AlertEvent{Rule: models.RuleLowBattery}); err == nil {
		t.Fatal("expected error before Connect")
	}
}

func TestPublish_WrapsTokenError(t *testing.T) {
	p, fb := connectedPublisher(t, testCfg(t))
	fb.publishToken.err = mqtt.ErrNotConnected

	err := p.PublishAlert(models.AlertEvent{Rule: models.RuleLowBattery})
	if err == nil || !strings.Contains(err.Error(), "meshmon/alerts") {
		t.Fatalf("expected topic in error, got %v", err)
	}
}

// --- disconnect ---

func TestDisconnect_PublishesOfflineThenDrops(t *testing.T) {
	p, fb := connectedPublisher(t, testCfg(t))

	p.Disconnect()

	msgs := fb.messages()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want offline status only", len(msgs))
	}
	var msg statusMessage
	if err := json.Unmarshal(msgs[0].payload, &msg); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if msg.State != "offline" {
		t.Fatalf("state = %q, want offline", msg.State)
	}
	if len(fb.disconnect) != 1 || fb.disconnect[0] != 250 {
		t.Fatalf("disconnect calls = %v", fb.disconnect)
	}
	if p.IsConnected() {
		t.Fatal("publisher still reports connected")
	}
}

func TestDisconnect_SafeWithoutConnect(t *testing.T) {
	p, _ := testPublisher(t, testCfg(t))
	p.Disconnect()
}

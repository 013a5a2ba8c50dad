package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

const (
	// defaultPollInterval paces the supervising loop between health checks.
	defaultPollInterval = 10 * time.Second
	// defaultSettleDelay gives the radio time to answer the handshake
	// before the first identity check.
	defaultSettleDelay = 2 * time.Second
	// defaultIdentityRetry is the pause before the second identity check
	// when the first comes back empty.
	defaultIdentityRetry = 3 * time.Second

	stopJoinTimeout = 5 * time.Second
)

// Manager keeps exactly one live transport to the radio, reconnecting
// forever at a fixed interval. Inbound packets from every transport
// generation flow into one bounded channel drained by the collector.
type Manager struct {
	cfg *config.Manager
	log *logger.Logger

	mu        sync.Mutex
	transport Transport
	connected bool
	info      *models.InterfaceInfo
	localNum  uint32
	haveLocal bool
	started   bool

	onConnected    func()
	onDisconnected func()

	packets chan Packet

	pollInterval  time.Duration
	settleDelay   time.Duration
	identityRetry time.Duration

	// newTransport builds a transport from the current config; tests
	// substitute a fake here.
	newTransport func() Transport

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Manager, log *logger.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:           cfg,
		log:           log,
		packets:       make(chan Packet, packetBuffer),
		pollInterval:  defaultPollInterval,
		settleDelay:   defaultSettleDelay,
		identityRetry: defaultIdentityRetry,
		ctx:           ctx,
		cancel:        cancel,
	}
	m.newTransport = m.buildTransport
	return m
}

// SetCallbacks registers the connection-state observers. Must be called
// before Start.
func (m *Manager) SetCallbacks(onConnected, onDisconnected func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = onConnected
	m.onDisconnected = onDisconnected
}

// Packets returns the inbound packet channel. It stays open across
// reconnects and is never closed.
func (m *Manager) Packets() <-chan Packet {
	return m.packets
}

// Start spawns the supervising loop. Calling it again is a no-op.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run()
}

// Stop signals the loop, closes the transport, and waits a bounded time
// for the goroutines to drain.
func (m *Manager) Stop() {
	m.cancel()
	m.disconnect()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		m.log.Warn("Connection loop did not exit within %s, abandoning", stopJoinTimeout)
	}
}

func (m *Manager) run() {
	defer m.wg.Done()
	m.log.Info("Connection manager started")

	for {
		if m.ctx.Err() != nil {
			return
		}

		if !m.IsConnected() {
			if err := m.connect(); err != nil {
				if m.ctx.Err() != nil {
					return
				}
				retry := time.Duration(m.cfg.GetInt("meshtastic.retry_interval", 60)) * time.Second
				m.log.Error("Connection attempt failed: %v (retrying in %s)", err, retry)
				m.disconnect()
				if !m.wait(retry) {
					return
				}
				continue
			}
		} else if !m.healthy() {
			m.log.Warn("Health check failed, dropping connection")
			m.disconnect()
		}

		if !m.wait(m.pollInterval) {
			return
		}
	}
}

// wait sleeps for d but returns early (false) when the manager is
// stopping, so Stop never has to wait out a poll interval.
func (m *Manager) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-m.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (m *Manager) connect() error {
	t := m.newTransport()
	if err := t.Connect(m.ctx); err != nil {
		return err
	}

	m.wg.Add(1)
	go m.forward(t)

	// Let the handshake land, then verify the radio reported who it is.
	// One retry with a longer pause covers slow devices.
	if !m.wait(m.settleDelay) {
		t.Close()
		return m.ctx.Err()
	}
	identity := t.Identity()
	if identity == nil {
		if !m.wait(m.identityRetry) {
			t.Close()
			return m.ctx.Err()
		}
		identity = t.Identity()
	}
	if identity == nil {
		t.Close()
		return fmt.Errorf("radio did not report identity")
	}

	info := m.interfaceInfo()
	m.mu.Lock()
	m.transport = t
	m.connected = true
	m.info = info
	m.localNum = identity.NodeNum
	m.haveLocal = true
	onConnected := m.onConnected
	m.mu.Unlock()

	m.log.Info("Connected to radio (%s), local node %s",
		info.Type, FormatNodeNum(identity.NodeNum))
	if onConnected != nil {
		onConnected()
	}

	if info.Type == "tcp" {
		m.preload(t)
	}
	return nil
}

// forward copies one transport generation's packets into the manager's
// long-lived channel. It exits when the transport's channel closes.
func (m *Manager) forward(t Transport) {
	defer m.wg.Done()
	for pkt := range t.Packets() {
		select {
		case m.packets <- pkt:
		case <-m.ctx.Done():
			return
		}
	}
}

// preload synthesizes nodeinfo packets from the transport's cached node
// directory so names show up before the first live packet. These are
// marked Preloaded and never count as liveness.
func (m *Manager) preload(t Transport) {
	nodes := t.Nodes()
	if len(nodes) == 0 {
		return
	}

	count := 0
	for id, entry := range nodes {
		pkt := Packet{
			Type:      PacketNodeInfo,
			From:      id,
			Portnum:   PortNodeInfo,
			Preloaded: true,
			NodeInfo: &NodeInfoPayload{
				LongName:  entry.LongName,
				ShortName: entry.ShortName,
			},
		}
		select {
		case m.packets <- pkt:
			count++
		case <-m.ctx.Done():
			return
		}
	}
	m.log.Info("Preloaded %d cached node names from radio", count)
}

func (m *Manager) healthy() bool {
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	return t != nil && t.Identity() != nil
}

// disconnect closes the transport and fires onDisconnected exactly once
// per transition out of the connected state. Safe to call repeatedly.
func (m *Manager) disconnect() {
	m.mu.Lock()
	t := m.transport
	wasConnected := m.connected
	m.transport = nil
	m.connected = false
	m.info = nil
	onDisconnected := m.onDisconnected
	m.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			m.log.Debug("Transport close: %v", err)
		}
	}
	if wasConnected {
		m.log.Warn("Disconnected from radio")
		if onDisconnected != nil {
			onDisconnected()
		}
	}
}

func (m *Manager) buildTransport() Transport {
	ifaceType := m.cfg.GetString("meshtastic.interface.type", "tcp")
	if ifaceType == "serial" {
		device := m.cfg.GetString("meshtastic.interface.port", "")
		baud := m.cfg.GetInt("meshtastic.interface.baud", 115200)
		return newSerialTransport(device, baud, m.log)
	}

	host := m.cfg.GetString("meshtastic.interface.host", "192.168.1.91")
	port := m.cfg.GetInt("meshtastic.interface.port", 4403)
	timeout := time.Duration(m.cfg.GetInt("meshtastic.connection_timeout", 30)) * time.Second
	return newTCPTransport(host, port, timeout, m.log)
}

func (m *Manager) interfaceInfo() *models.InterfaceInfo {
	ifaceType := m.cfg.GetString("meshtastic.interface.type", "tcp")
	info := &models.InterfaceInfo{
		Type:        ifaceType,
		ConnectedAt: time.Now().Unix(),
	}
	if ifaceType == "serial" {
		info.Device = m.cfg.GetString("meshtastic.interface.port", "")
		info.Baud = m.cfg.GetInt("meshtastic.interface.baud", 115200)
	} else {
		info.Host = m.cfg.GetString("meshtastic.interface.host", "")
		info.Port = m.cfg.GetInt("meshtastic.interface.port", 4403)
	}
	return info
}

func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Status returns a copy of the connection state for external consumers.
func (m *Manager) Status() models.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := models.ConnectionStatus{Connected: m.connected}
	if m.info != nil {
		info := *m.info
		st.Interface = &info
	}
	return st
}

// LocalNodeID returns the canonical id of the radio this monitor is
// attached to, or "" before the first successful connection. The value
// survives disconnects so callers can still refuse to forget the local
// node while the link is down.
func (m *Manager) LocalNodeID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.haveLocal {
		return ""
	}
	return FormatNodeNum(m.localNum)
}

// SendText sends a plain text message to a node (or BroadcastID).
func (m *Manager) SendText(dest, text string) error {
	m.mu.Lock()
	t := m.transport
	connected := m.connected
	m.mu.Unlock()

	if !connected || t == nil {
		return ErrNotConnected
	}
	return t.SendText(dest, text)
}

// Package collector is the orchestrator: it owns the node registry,
// translates decoded packets into registry mutations, persists the
// registry to disk, logs telemetry to daily CSV files, and drives
// alert evaluation from a background loop.
package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"meshmon/internal/alerts"
	"meshmon/internal/config"
	"meshmon/internal/icp"
	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/radio"
)

const (
	// maxNodeTexts caps the per-node recent-text ring.
	maxNodeTexts = 10

	stopJoinTimeout = 5 * time.Second
)

var (
	ErrLocalNode    = errors.New("cannot forget the local node")
	ErrNodeNotFound = errors.New("node not found")
)

// Radio is the slice of the connection manager the collector drives.
type Radio interface {
	Start()
	Stop()
	SetCallbacks(onConnected, onDisconnected func())
	Packets() <-chan radio.Packet
	Status() models.ConnectionStatus
	LocalNodeID() string
}

// MessageSink stores inbound chat traffic and files read receipts.
// It returns the stored message, or nil when the text was protocol
// noise (a receipt) rather than something worth keeping.
type MessageSink interface {
	HandleIncoming(fromNodeID, toNodeID, fromName, text string, rxTime float64) (*models.Message, error)
}

// Collector binds the radio, the registry, the message service and the
// alert engine together. All registry access goes through one mutex;
// accessors hand out copies so callers never observe a mid-merge
// record or hold the lock while rendering.
type Collector struct {
	cfg    *config.Manager
	log    *logger.Logger
	radio  Radio
	alerts *alerts.Engine
	msgs   MessageSink
	status *icp.Receiver

	csv      *csvLogger
	dataFile string

	mu      sync.Mutex
	nodes   map[string]*models.NodeRecord
	motion  map[string]int64
	texts   map[string][]models.NodeText
	reports map[string]models.StatusReport
	started bool

	onChange func()
	onSample func(models.TelemetrySample)
	onReport func(models.StatusReport)

	tickEvery  time.Duration
	alertEvery time.Duration
	saveEvery  time.Duration
	sweepEvery time.Duration
	errBackoff time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfg *config.Manager, r Radio, engine *alerts.Engine, msgs MessageSink, log *logger.Logger) *Collector {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Collector{
		cfg:        cfg,
		log:        log.Component("collector"),
		radio:      r,
		alerts:     engine,
		msgs:       msgs,
		csv:        newCSVLogger(cfg.GetString("data.log_directory", "logs"), log.Component("csvlog")),
		dataFile:   cfg.GetString("data.data_file", "latest_data.json"),
		nodes:      make(map[string]*models.NodeRecord),
		motion:     make(map[string]int64),
		texts:      make(map[string][]models.NodeText),
		reports:    make(map[string]models.StatusReport),
		tickEvery:  time.Second,
		alertEvery: time.Minute,
		saveEvery:  30 * time.Second,
		sweepEvery: time.Hour,
		errBackoff: time.Minute,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
	c.status = icp.NewReceiver(c.applyStatusReport, log)
	return c
}

// SetChangeCallback registers the observer invoked after every
// packet-driven mutation and connection transition. Debouncing is the
// observer's job, not the collector's.
func (c *Collector) SetChangeCallback(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = fn
}

// SetSampleCallback registers a sink for every telemetry and motion
// sample written to the CSV log, e.g. the Postgres archive.
func (c *Collector) SetSampleCallback(fn func(models.TelemetrySample)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSample = fn
}

// SetReportCallback registers an observer for incoming ICP status
// heartbeats from other monitors.
func (c *Collector) SetReportCallback(fn func(models.StatusReport)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onReport = fn
}

// Start loads the persisted snapshot, starts the connection manager,
// and spawns the drain and maintenance goroutines. Calling it again is
// a no-op.
func (c *Collector) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.log.Info("Starting data collection")
	c.loadSnapshot()
	c.radio.SetCallbacks(c.handleConnected, c.handleDisconnected)
	c.radio.Start()

	c.wg.Add(2)
	go c.drainPackets()
	go c.runLoop()
}

// Stop halts the loops with a bounded join, stops the connection
// manager, and writes one final snapshot so a clean shutdown never
// loses more than in-flight packets.
func (c *Collector) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopJoinTimeout):
		c.log.Warn("Processing loop did not exit within %s, abandoning", stopJoinTimeout)
	}

	c.radio.Stop()

	if err := c.saveSnapshot(); err != nil {
		c.log.Error("Final snapshot save failed: %v", err)
	}
	c.log.Info("Data collection stopped")
}

func (c *Collector) handleConnected() {
	c.log.Info("Radio link established")
	c.notifyChange()
}

func (c *Collector) handleDisconnected() {
	c.log.Warn("Radio link lost")
	c.notifyChange()
}

func (c *Collector) notifyChange() {
	c.mu.Lock()
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (c *Collector) notifySample(sample models.TelemetrySample) {
	c.mu.Lock()
	fn := c.onSample
	c.mu.Unlock()
	if fn != nil {
		fn(sample)
	}
}

func (c *Collector) notifyReport(rep models.StatusReport) {
	c.mu.Lock()
	fn := c.onReport
	c.mu.Unlock()
	if fn != nil {
		fn(rep)
	}
}

// runLoop is the maintenance scheduler: three independent timers
// checked each tick. An error from one pass is logged and followed by
// a backoff sleep; the loop itself never exits until shutdown.
func (c *Collector) runLoop() {
	defer c.wg.Done()

	var lastAlert, lastSave, lastSweep time.Time
	for {
		if !c.wait(c.tickEvery) {
			return
		}
		if err := c.maintain(&lastAlert, &lastSave, &lastSweep); err != nil {
			c.log.Error("Processing loop error: %v (backing off %s)", err, c.errBackoff)
			if !c.wait(c.errBackoff) {
				return
			}
		}
	}
}

// maintain runs whichever periodic jobs are due. Timers advance even
// when a job fails so a broken disk cannot turn the loop into a hot
// spin on the same error.
func (c *Collector) maintain(lastAlert, lastSave, lastSweep *time.Time) error {
	now := c.now()
	var firstErr error

	if now.Sub(*lastAlert) >= c.alertEvery {
		*lastAlert = now
		c.runAlertCheck()
	}

	if now.Sub(*lastSave) >= c.saveEvery {
		*lastSave = now
		if err := c.saveSnapshot(); err != nil {
			firstErr = err
		}
	}

	if now.Sub(*lastSweep) >= c.sweepEvery {
		*lastSweep = now
		retain := c.cfg.GetInt("data.retain_days", 30)
		removed, err := c.csv.sweep(retain, now)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if removed > 0 {
			c.log.Info("Removed %d expired log file(s)", removed)
		}
	}

	return firstErr
}

func (c *Collector) runAlertCheck() []models.AlertEvent {
	events := c.alerts.CheckAlerts(c.GetNodesData())
	if len(events) > 0 {
		c.log.Info("Alert check triggered %d alert(s)", len(events))
	}
	return events
}

// wait sleeps for d but returns early (false) when the collector is
// stopping.
func (c *Collector) wait(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-c.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// GetNodesData returns an independent copy of every node record so
// callers can render or serialize without holding the registry lock.
func (c *Collector) GetNodesData() map[string]*models.NodeRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]*models.NodeRecord, len(c.nodes))
	for id, rec := range c.nodes {
		cp := rec.Copy()
		out[id] = &cp
	}
	return out
}

func (c *Collector) GetConnectionStatus() models.ConnectionStatus {
	return c.radio.Status()
}

// GetStats rolls the registry up into node counts; online means heard
// within the last five minutes.
func (c *Collector) GetStats() models.Stats {
	now := c.now().Unix()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := models.Stats{TotalNodes: len(c.nodes)}
	for _, rec := range c.nodes {
		if rec.Online(now) {
			st.OnlineNodes++
		}
	}
	return st
}

// GetNodeMessages returns up to limit of the node's most recent plain
// texts, oldest first. limit <= 0 means all retained.
func (c *Collector) GetNodeMessages(nodeID string, limit int) []models.NodeText {
	c.mu.Lock()
	defer c.mu.Unlock()
	ring := c.texts[nodeID]
	if limit <= 0 || limit > len(ring) {
		limit = len(ring)
	}
	out := make([]models.NodeText, limit)
	copy(out, ring[len(ring)-limit:])
	return out
}

// StatusReports returns the latest parsed status heartbeat per node.
func (c *Collector) StatusReports() map[string]models.StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.StatusReport, len(c.reports))
	for id, rep := range c.reports {
		out[id] = rep
	}
	return out
}

// LocalNodeRecord returns a copy of the record for the radio this
// monitor is attached to, or nil before the first connection or before
// the local node has reported anything.
func (c *Collector) LocalNodeRecord() *models.NodeRecord {
	id := c.radio.LocalNodeID()
	if id == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.nodes[id]
	if !ok {
		return nil
	}
	cp := rec.Copy()
	return &cp
}

// ForgetNode removes a node from the registry and all auxiliary caches
// and saves the snapshot immediately. The local node is protected:
// forgetting the radio this monitor is attached to is always refused.
func (c *Collector) ForgetNode(nodeID string, deleteLogs bool) error {
	if local := c.radio.LocalNodeID(); local != "" && nodeID == local {
		c.log.Error("Refusing to forget local node %s", nodeID)
		return ErrLocalNode
	}

	c.mu.Lock()
	rec, ok := c.nodes[nodeID]
	if !ok {
		c.mu.Unlock()
		return ErrNodeNotFound
	}
	name := rec.DisplayName(nodeID)
	delete(c.nodes, nodeID)
	delete(c.motion, nodeID)
	delete(c.texts, nodeID)
	delete(c.reports, nodeID)
	c.mu.Unlock()

	if deleteLogs {
		dir := filepath.Join(c.csv.dir, radio.ShortID(nodeID))
		if err := os.RemoveAll(dir); err != nil {
			c.log.Error("Failed to delete log directory for %s: %v", nodeID, err)
		} else {
			c.log.Info("Deleted log directory for %s", nodeID)
		}
	}

	if err := c.saveSnapshot(); err != nil {
		c.log.Error("Snapshot save after forget failed: %v", err)
	}
	c.log.Info("Forgot node %s (%s)", nodeID, name)
	c.notifyChange()
	return nil
}

// loadSnapshot seeds the registry from the persisted JSON file. A
// missing file is a fresh install; a corrupt one is logged and
// ignored so a bad shutdown cannot keep the monitor from starting.
func (c *Collector) loadSnapshot() {
	data, err := os.ReadFile(c.dataFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.Warn("Failed to read node snapshot %s: %v", c.dataFile, err)
		}
		return
	}

	var nodes map[string]*models.NodeRecord
	if err := json.Unmarshal(data, &nodes); err != nil {
		c.log.Warn("Node snapshot %s is corrupt, starting empty: %v", c.dataFile, err)
		return
	}

	c.mu.Lock()
	for id, rec := range nodes {
		if rec == nil {
			continue
		}
		if rec.FieldTimes == nil {
			rec.FieldTimes = make(map[string]int64)
		}
		c.nodes[id] = rec
	}
	count := len(c.nodes)
	c.mu.Unlock()

	c.log.Info("Loaded %d node(s) from snapshot", count)
}

// saveSnapshot writes the full registry as one JSON object via
// write-temp-then-rename, so a crash mid-write leaves the previous
// snapshot intact.
func (c *Collector) saveSnapshot() error {
	snapshot := c.GetNodesData()

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal node snapshot: %w", err)
	}

	if dir := filepath.Dir(c.dataFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	tmp := c.dataFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write node snapshot: %w", err)
	}
	if err := os.Rename(tmp, c.dataFile); err != nil {
		return fmt.Errorf("failed to replace node snapshot: %w", err)
	}

	c.log.Debug("Saved snapshot of %d node(s)", len(snapshot))
	return nil
}

func (c *Collector) applyStatusReport(rep models.StatusReport) {
	c.mu.Lock()
	c.reports[rep.NodeID] = rep
	c.mu.Unlock()
	c.notifyReport(rep)
}

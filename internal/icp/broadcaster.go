package icp

import (
	"context"
	"strings"
	"sync"
	"time"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/radio"
)

const (
	// helpAutoClear releases a forgotten help request.
	helpAutoClear = time.Hour
	// checkEvery is how often the broadcaster recomputes status to
	// detect changes between the 15-minute scheduled sends.
	checkEvery = time.Minute
)

// Sender is the slice of the radio the broadcaster needs.
type Sender interface {
	SendText(destination, text string) error
}

// Broadcaster periodically announces our own station status and pushes
// an immediate update whenever the computed status or reason set
// changes, or the operator toggles the help flag.
type Broadcaster struct {
	cfg       *config.Manager
	radio     Sender
	localData func() *models.NodeRecord
	log       *logger.Logger

	mu          sync.Mutex
	needsHelp   bool
	helpSetAt   time.Time
	lastStatus  string
	lastReasons string
	lastSent    time.Time
	started     bool

	checkEvery time.Duration
	now        func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBroadcaster wires the status heartbeat. localData must return the
// latest telemetry record for our own node (nil is fine before the
// first packet).
func NewBroadcaster(cfg *config.Manager, sender Sender, localData func() *models.NodeRecord, log *logger.Logger) *Broadcaster {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broadcaster{
		cfg:        cfg,
		radio:      sender,
		localData:  localData,
		log:        log.Component("icp"),
		checkEvery: checkEvery,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (b *Broadcaster) Start() {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return
	}
	b.started = true
	b.mu.Unlock()

	b.wg.Add(1)
	go b.run()
	b.log.Info("Status broadcaster started (interval %s)", b.interval())
}

func (b *Broadcaster) Stop() {
	b.cancel()
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.checkEvery)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.evaluate(false)
		}
	}
}

// RequestHelp raises the sticky help flag and broadcasts immediately.
// The flag auto-clears after an hour if nobody clears it first.
func (b *Broadcaster) RequestHelp() {
	b.mu.Lock()
	b.needsHelp = true
	b.helpSetAt = b.now()
	b.mu.Unlock()

	b.log.Warn("Help requested, broadcasting")
	b.evaluate(true)
}

// ClearHelp lowers the help flag and broadcasts immediately.
func (b *Broadcaster) ClearHelp() {
	b.mu.Lock()
	b.needsHelp = false
	b.mu.Unlock()

	b.log.Info("Help request cleared, broadcasting")
	b.evaluate(true)
}

// NeedsHelp reports the current help flag.
func (b *Broadcaster) NeedsHelp() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.needsHelp
}

// CurrentStatus recomputes status and reasons from the latest local
// telemetry, without sending anything.
func (b *Broadcaster) CurrentStatus() (string, []string) {
	return Compute(b.localData())
}

// evaluate recomputes status and sends when forced, changed, or the
// scheduled interval has elapsed. A failed send is retried on the next
// tick rather than recorded as done.
func (b *Broadcaster) evaluate(force bool) {
	now := b.now()

	b.mu.Lock()
	if b.needsHelp && now.Sub(b.helpSetAt) >= helpAutoClear {
		b.needsHelp = false
		force = true
		b.log.Info("Help request auto-cleared after %s", helpAutoClear)
	}
	help := b.needsHelp
	b.mu.Unlock()

	status, reasons := Compute(b.localData())
	joined := strings.Join(reasons, ",")

	b.mu.Lock()
	changed := status != b.lastStatus || joined != b.lastReasons
	due := b.lastSent.IsZero() || now.Sub(b.lastSent) >= b.interval()
	b.mu.Unlock()

	if !force && !changed && !due {
		return
	}

	text := FormatStatus(status, reasons, help, b.version(), now)
	if err := b.radio.SendText(radio.BroadcastID, text); err != nil {
		b.log.Warn("Failed to broadcast status: %v", err)
		return
	}

	b.mu.Lock()
	b.lastStatus = status
	b.lastReasons = joined
	b.lastSent = now
	b.mu.Unlock()

	b.log.Info("Status broadcast: %s help=%v reasons=[%s]", status, help, joined)
}

func (b *Broadcaster) interval() time.Duration {
	return time.Duration(b.cfg.GetInt("icp.broadcast_interval_minutes", 15)) * time.Minute
}

func (b *Broadcaster) version() string {
	return b.cfg.GetString("icp.version", "1.0")
}

package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"meshmon/internal/alerts"
	"meshmon/internal/archive"
	"meshmon/internal/collector"
	"meshmon/internal/config"
	"meshmon/internal/handler"
	"meshmon/internal/icp"
	"meshmon/internal/logger"
	"meshmon/internal/messages"
	"meshmon/internal/models"
	"meshmon/internal/notify"
	"meshmon/internal/radio"
	"meshmon/internal/report"
	"meshmon/internal/server"
	"meshmon/internal/uplink"
	"meshmon/internal/websocket"
)

const (
	shutdownTimeout = 10 * time.Second
	sinkTimeout     = 5 * time.Second
)

func main() {
	// 1. Environment bootstrap (.env + MESHMON_* overrides).
	boot := config.LoadBootstrap()

	// 2. Logger.
	log, err := logger.New(logger.Config{
		Level:       boot.LogLevel,
		Mode:        boot.LogMode,
		LogFilePath: boot.LogFile,
		UseColors:   boot.UseColors,
	})
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Close()

	// 3. Configuration.
	cfg, err := config.NewManager(boot.ConfigPath, log)
	if err != nil {
		log.Fatal("Failed to load configuration: %v", err)
	}

	log.Info("Starting meshmond (config: %s)", boot.ConfigPath)

	// 4. Notifiers and alert engine. Unconfigured channels are skipped
	// at send time, so both are always constructed.
	email := notify.NewEmailNotifier(cfg, log)
	slack := notify.NewSlackNotifier(cfg, log)
	profilesPath := filepath.Join(filepath.Dir(boot.ConfigPath), "node_profiles.json")
	engine := alerts.NewEngine(cfg, profilesPath, []notify.Notifier{email, slack}, log)

	// 5. Radio link and message service.
	radioMgr := radio.NewManager(cfg, log)

	store, err := messages.NewStore(cfg.GetString("messages.store_file", "config/messages.json"), log)
	if err != nil {
		log.Fatal("Failed to open message store: %v", err)
	}
	msgSvc := messages.NewService(store, radioMgr, log)

	// 6. WebSocket hub for the GUI.
	hub := websocket.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// 7. Collector. Incoming chat is stored and pushed to the GUI.
	col := collector.New(cfg, radioMgr, engine, &messageFanout{svc: msgSvc, hub: hub}, log)

	// 8. ICP status broadcaster.
	broadcaster := icp.NewBroadcaster(cfg, radioMgr, col.LocalNodeRecord, log)

	// 9. Optional MQTT uplink. A dead broker degrades the uplink, it
	// never takes the monitor down.
	var up *uplink.Publisher
	if pub := uplink.NewPublisher(cfg, log); pub.Enabled() {
		if err := pub.Connect(); err != nil {
			log.Error("Uplink disabled for this run: %v", err)
		} else {
			up = pub
		}
	}

	// 10. Optional Postgres archive, same policy.
	var arch *archive.Archive
	if archive.Enabled(cfg) {
		arch, err = archive.New(cfg, log)
		if err != nil {
			log.Error("Archive disabled for this run: %v", err)
			arch = nil
		}
	}

	// 11. Fan events out to the hub and the optional sinks.
	wireEvents(col, engine, hub, up, arch, log)

	// 12. Scheduled PDF reports.
	gen := report.NewGenerator(cfg, col, log)
	if err := gen.Start(); err != nil {
		log.Fatal("Failed to start report schedule: %v", err)
	}

	// 13. Start collection.
	col.Start()
	broadcaster.Start()

	if up != nil {
		interval := time.Duration(cfg.GetInt("uplink.publish_interval_seconds", 60)) * time.Second
		go runUplink(ctx, up, col, interval, log)
	}

	// 14. HTTP server.
	var archHealth handler.ArchiveHealth
	if arch != nil {
		archHealth = arch
	}

	srv := server.New(cfg, log)
	srv.RegisterHandlers(
		handler.NewNodeHandler(col, log),
		handler.NewMessageHandler(msgSvc, log),
		handler.NewStatusHandler(col, broadcaster, log),
		handler.NewAlertHandler(engine, email, col, log),
		handler.NewReportHandler(gen, log),
		handler.NewHealthHandler(col, archHealth, log),
		hub,
	)

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal("Server failed: %v", err)
		}
	}()

	log.Info("meshmond ready on http://%s", srv.Addr())

	// 15. Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Warn("Shutdown signal received")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error: %v", err)
	}

	gen.Stop()
	broadcaster.Stop()
	col.Stop()
	cancel()

	if up != nil {
		up.Disconnect()
	}
	if arch != nil {
		if err := arch.Close(); err != nil {
			log.Error("Archive close error: %v", err)
		}
	}

	log.Info("Shutdown complete")
}

// wireEvents connects the collector and the alert engine to the
// WebSocket hub, the MQTT uplink and the Postgres archive. Everything
// here is fire-and-forget: a slow or dead sink never blocks the
// packet path.
func wireEvents(col *collector.Collector, engine *alerts.Engine, hub *websocket.Hub, up *uplink.Publisher, arch *archive.Archive, log *logger.Logger) {
	var mu sync.Mutex
	var wasConnected bool

	col.SetChangeCallback(func() {
		status := col.GetConnectionStatus()

		mu.Lock()
		transition := status.Connected != wasConnected
		wasConnected = status.Connected
		mu.Unlock()

		if transition {
			hub.Broadcast(websocket.EventConnection, status)
			if up != nil && up.IsConnected() {
				if err := up.PublishConnection(status); err != nil {
					log.Warn("Uplink connection publish failed: %v", err)
				}
			}
		}

		hub.Broadcast(websocket.EventNodeUpdated, col.GetStats())
	})

	col.SetReportCallback(func(rep models.StatusReport) {
		hub.Broadcast(websocket.EventStatusReport, rep)
	})

	engine.SetAlertCallback(func(event models.AlertEvent) {
		hub.Broadcast(websocket.EventAlert, event)

		if up != nil && up.IsConnected() {
			if err := up.PublishAlert(event); err != nil {
				log.Warn("Uplink alert publish failed: %v", err)
			}
		}
		if arch != nil {
			ctx, cancelIns := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancelIns()
			if err := arch.InsertAlert(ctx, event); err != nil {
				log.Error("Failed to archive alert %s: %v", event.ID, err)
			}
		}
	})

	if arch != nil {
		col.SetSampleCallback(func(sample models.TelemetrySample) {
			ctx, cancelIns := context.WithTimeout(context.Background(), sinkTimeout)
			defer cancelIns()
			if err := arch.InsertSample(ctx, sample); err != nil {
				log.Error("Failed to archive sample from %s: %v", sample.NodeID, err)
			}
		})
	}
}

// runUplink pushes retained node snapshots to the broker on a fixed
// cadence until shutdown.
func runUplink(ctx context.Context, up *uplink.Publisher, col *collector.Collector, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !up.IsConnected() {
				continue
			}
			if err := up.PublishNodes(col.GetNodesData()); err != nil {
				log.Warn("Uplink node publish failed: %v", err)
			}
		}
	}
}

// messageFanout stores incoming chat through the message service and
// pushes anything stored to connected GUI clients.
type messageFanout struct {
	svc *messages.Service
	hub *websocket.Hub
}

func (f *messageFanout) HandleIncoming(fromNodeID, toNodeID, fromName, text string, rxTime float64) (*models.Message, error) {
	msg, err := f.svc.HandleIncoming(fromNodeID, toNodeID, fromName, text, rxTime)
	if msg != nil {
		f.hub.Broadcast(websocket.EventMessageReceived, msg)
	}
	return msg, err
}

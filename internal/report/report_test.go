package report

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// --- fakes ---

type fakeSource struct {
	nodes   map[string]*models.NodeRecord
	stats   models.Stats
	conn    models.ConnectionStatus
	reports map[string]models.StatusReport
}

func (f *fakeSource) GetNodesData() map[string]*models.NodeRecord   { return f.nodes }
func (f *fakeSource) GetStats() models.Stats                        { return f.stats }
func (f *fakeSource) GetConnectionStatus() models.ConnectionStatus  { return f.conn }
func (f *fakeSource) StatusReports() map[string]models.StatusReport { return f.reports }

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

func meshSource(now int64) *fakeSource {
	online := now - 60
	stale := now - 7200
	temp := 22.5
	batt := 76.0
	volt := 4.1
	snr := 7.25
	ch3 := 13.1

	ridge := models.NewNodeRecord()
	ridge.LongName = "Ridge Repeater"
	ridge.ShortName = "RDG"
	ridge.LastHeard = &online
	ridge.Temperature = &temp
	ridge.BatteryLevel = &batt
	ridge.Voltage = &volt
	ridge.SNR = &snr
	ridge.Ch3Voltage = &ch3

	gate := models.NewNodeRecord()
	gate.LongName = "Gate Sensor"
	gate.LastHeard = &stale

	return &fakeSource{
		nodes: map[string]*models.NodeRecord{
			"!a20a0de0": ridge,
			"!deadbeef": gate,
		},
		stats: models.Stats{TotalNodes: 2, OnlineNodes: 1},
		conn:  models.ConnectionStatus{Connected: true},
		reports: map[string]models.StatusReport{
			"!a20a0de0": {
				NodeID:    "!a20a0de0",
				Status:    "YELLOW",
				Reasons:   []string{"low battery"},
				NeedsHelp: false,
			},
		},
	}
}

func testGenerator(t *testing.T, src Source) (*Generator, string) {
	t.Helper()
	cfg := testCfg(t)
	outDir := filepath.Join(t.TempDir(), "reports")
	set(t, cfg, "reports.output_dir", outDir)

	g := NewGenerator(cfg, src, testLog(t))
	g.now = func() time.Time { return time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC) }
	return g, outDir
}

// --- generation ---

func TestGenerate_WritesPDF(t *testing.T) {
	g, outDir := testGenerator(t, meshSource(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC).Unix()))

	path, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if path != filepath.Join(outDir, "mesh-summary-20260314.pdf") {
		t.Fatalf("unexpected report path: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.HasPrefix(string(data), "%PDF") {
		t.Fatalf("output is not a PDF, starts with %q", data[:8])
	}
	if len(data) < 1000 {
		t.Fatalf("report suspiciously small: %d bytes", len(data))
	}
}

func TestGenerate_EmptyMesh(t *testing.T) {
	g, _ := testGenerator(t, &fakeSource{nodes: map[string]*models.NodeRecord{}})

	path, err := g.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("report not written: %v", err)
	}
}

func TestGenerate_CreatesOutputDir(t *testing.T) {
	src := &fakeSource{nodes: map[string]*models.NodeRecord{}}
	cfg := testCfg(t)
	outDir := filepath.Join(t.TempDir(), "deep", "nested", "reports")
	set(t, cfg, "reports.output_dir", outDir)

	g := NewGenerator(cfg, src, testLog(t))
	if _, err := g.Generate(); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := os.Stat(outDir); err != nil {
		t.Fatalf("output dir missing: %v", err)
	}
}

// --- cell formatting ---

func TestLastHeardCell(t *testing.T) {
	if got := lastHeardCell(nil); got != "never" {
		t.Errorf("lastHeardCell(nil) = %q", got)
	}
	zero := int64(0)
	if got := lastHeardCell(&zero); got != "never" {
		t.Errorf("lastHeardCell(0) = %q", got)
	}
	ts := time.Date(2026, 3, 14, 7, 30, 0, 0, time.Local).Unix()
	if got := lastHeardCell(&ts); got != "2026-03-14 07:30" {
		t.Errorf("lastHeardCell = %q", got)
	}
}

func TestFloatCell(t *testing.T) {
	if got := floatCell(nil, 1); got != "" {
		t.Errorf("floatCell(nil) = %q", got)
	}
	v := 22.55
	if got := floatCell(&v, 1); got != "22.6" {
		t.Errorf("floatCell(22.55, 1) = %q", got)
	}
}

func TestExternalCell(t *testing.T) {
	if got := externalCell(nil); got != "" {
		t.Errorf("externalCell(nil) = %q", got)
	}
	full := 13.6
	if got := externalCell(&full); got != "100" {
		t.Errorf("externalCell(13.6) = %q", got)
	}
}

// --- scheduling ---

func TestStart_DisabledIsNoop(t *testing.T) {
	g, _ := testGenerator(t, &fakeSource{})
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	g.Stop()
}

func TestStart_RejectsBadSchedule(t *testing.T) {
	src := &fakeSource{}
	cfg := testCfg(t)
	set(t, cfg, "reports.enabled", true)
	set(t, cfg, "reports.schedule", "not a cron line")

	g := NewGenerator(cfg, src, testLog(t))
	err := g.Start()
	if err == nil || !strings.Contains(err.Error(), "reports.schedule") {
		t.Fatalf("expected schedule parse error, got %v", err)
	}
}

func TestStartStop_WithSchedule(t *testing.T) {
	src := &fakeSource{}
	cfg := testCfg(t)
	set(t, cfg, "reports.enabled", true)

	g := NewGenerator(cfg, src, testLog(t))
	if err := g.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	g.Stop()
}

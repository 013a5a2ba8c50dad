//go:build integration

package archive

import (
	"context"
	"os"
	"testing"
	"time"

	"meshmon/internal/logger"
	"meshmon/internal/models"
)

// testArchive connects to the database named by MESHMON_ARCHIVE_TEST_DSN
// and skips when it is unset. Run with:
//
//	MESHMON_ARCHIVE_TEST_DSN="postgres://..." go test -tags integration ./internal/archive/
func testArchive(t *testing.T) *Archive {
	t.Helper()

	dsn := os.Getenv("MESHMON_ARCHIVE_TEST_DSN")
	if dsn == "" {
		t.Skip("MESHMON_ARCHIVE_TEST_DSN not set")
	}

	log, err := logger.New(logger.Config{Level: logger.FATAL, UseColors: false})
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}

	cfg := testCfg(t)
	set(t, cfg, "archive.enabled", true)
	set(t, cfg, "archive.dsn", dsn)

	a, err := New(cfg, log)
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestIntegration_InsertSampleRoundTrip(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	snr := 7.25
	hop := 3
	sample := models.TelemetrySample{
		NodeID:    "!a20a0de0",
		LongName:  "Ridge Repeater",
		ShortName: "RDG",
		Time:      time.Now().Unix(),
		SNR:       &snr,
		HopLimit:  &hop,
		Metrics:   map[string]float64{"Temperature": 22.5, "Battery Level": 76},
	}
	if err := a.InsertSample(ctx, sample); err != nil {
		t.Fatalf("InsertSample: %v", err)
	}

	var temp float64
	var humidity *float64
	row := a.db.QueryRowContext(ctx,
		`SELECT temperature, humidity FROM node_telemetry
		 WHERE node_id = $1 ORDER BY id DESC LIMIT 1`, "!a20a0de0")
	if err := row.Scan(&temp, &humidity); err != nil {
		t.Fatalf("read back: %v", err)
	}
	if temp != 22.5 {
		t.Errorf("temperature = %v, want 22.5", temp)
	}
	if humidity != nil {
		t.Errorf("humidity = %v, want NULL", *humidity)
	}
}

func TestIntegration_InsertAlertIdempotent(t *testing.T) {
	a := testArchive(t)
	ctx := context.Background()

	event := models.AlertEvent{
		ID:          "it-" + time.Now().Format("20060102150405.000"),
		Rule:        models.RuleNodeOffline,
		NodeID:      "!a20a0de0",
		NodeName:    "Ridge Repeater",
		Message:     "Node Ridge Repeater appears offline",
		Value:       700,
		Threshold:   600,
		TriggeredAt: time.Now(),
	}

	if err := a.InsertAlert(ctx, event); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}
	// Same UUID again must be a silent no-op.
	if err := a.InsertAlert(ctx, event); err != nil {
		t.Fatalf("InsertAlert retry: %v", err)
	}

	var count int
	row := a.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM alert_history WHERE id = $1`, event.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("alert rows = %d, want 1", count)
	}
}

func TestIntegration_Health(t *testing.T) {
	a := testArchive(t)
	if err := a.Health(context.Background()); err != nil {
		t.Errorf("Health: %v", err)
	}
}

// Package archive writes telemetry samples and alert history to
// PostgreSQL for long-term analysis. The daily CSV logs stay the
// primary record; the archive is an optional mirror enabled by
// archive.enabled plus a DSN, and insert failures are logged by the
// caller and never block collection.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

const (
	pingTimeout = 5 * time.Second

	maxOpenConns    = 5
	maxIdleConns    = 2
	connMaxLifetime = 30 * time.Minute
)

// Enabled reports whether the archive should be constructed at all.
func Enabled(cfg *config.Manager) bool {
	return cfg.GetBool("archive.enabled", false) && cfg.GetString("archive.dsn", "") != ""
}

type Archive struct {
	db  *sql.DB
	log *logger.Logger
}

// New opens the configured database, verifies it is reachable and
// creates the tables if they do not exist yet.
func New(cfg *config.Manager, log *logger.Logger) (*Archive, error) {
	dsn := cfg.GetString("archive.dsn", "")
	if dsn == "" {
		return nil, fmt.Errorf("archive.dsn is not configured")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping archive database: %w", err)
	}

	a := &Archive{db: db, log: log.Component("archive")}
	if err := a.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	a.log.Info("Archive database ready")
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("archive health check failed: %w", err)
	}
	return nil
}

func (a *Archive) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS node_telemetry (
			id                       BIGSERIAL PRIMARY KEY,
			recorded_at              TIMESTAMPTZ NOT NULL,
			node_id                  TEXT NOT NULL,
			long_name                TEXT,
			short_name               TEXT,
			snr                      DOUBLE PRECISION,
			hop_limit                INTEGER,
			temperature              DOUBLE PRECISION,
			humidity                 DOUBLE PRECISION,
			pressure                 DOUBLE PRECISION,
			voltage                  DOUBLE PRECISION,
			current_ma               DOUBLE PRECISION,
			battery_level            DOUBLE PRECISION,
			channel_utilization      DOUBLE PRECISION,
			air_util_tx              DOUBLE PRECISION,
			uptime_seconds           DOUBLE PRECISION,
			ch3_voltage              DOUBLE PRECISION,
			ch3_current              DOUBLE PRECISION,
			motion_detected          BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_node_telemetry_node_time
			ON node_telemetry (node_id, recorded_at)`,
		`CREATE TABLE IF NOT EXISTS alert_history (
			id           TEXT PRIMARY KEY,
			rule         TEXT NOT NULL,
			node_id      TEXT NOT NULL,
			node_name    TEXT,
			message      TEXT,
			value        DOUBLE PRECISION,
			threshold    DOUBLE PRECISION,
			triggered_at TIMESTAMPTZ NOT NULL,
			is_test      BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alert_history_time
			ON alert_history (triggered_at)`,
	}

	for _, stmt := range statements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create archive schema: %w", err)
		}
	}
	return nil
}

// InsertSample stores one telemetry or motion row. Metric columns not
// carried by the sample become SQL NULLs, matching the empty cells of
// the CSV log.
func (a *Archive) InsertSample(ctx context.Context, sample models.TelemetrySample) error {
	query := `
		INSERT INTO node_telemetry (
			recorded_at, node_id, long_name, short_name, snr, hop_limit,
			temperature, humidity, pressure, voltage, current_ma,
			battery_level, channel_utilization, air_util_tx,
			uptime_seconds, ch3_voltage, ch3_current, motion_detected
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18
		)
	`

	_, err := a.db.ExecContext(
		ctx, query,
		time.Unix(sample.Time, 0).UTC(),
		sample.NodeID,
		sample.LongName,
		sample.ShortName,
		nullFloat(sample.SNR),
		nullInt(sample.HopLimit),
		nullMetric(sample.Metrics, "Temperature"),
		nullMetric(sample.Metrics, "Humidity"),
		nullMetric(sample.Metrics, "Pressure"),
		nullMetric(sample.Metrics, "Voltage"),
		nullMetric(sample.Metrics, "Current"),
		nullMetric(sample.Metrics, "Battery Level"),
		nullMetric(sample.Metrics, "Channel Utilization"),
		nullMetric(sample.Metrics, "Air Utilization (TX)"),
		nullMetric(sample.Metrics, "Uptime"),
		nullMetric(sample.Metrics, "Ch3 Voltage"),
		nullMetric(sample.Metrics, "Ch3 Current"),
		sample.Motion,
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry for %s: %w", sample.NodeID, err)
	}
	return nil
}

// InsertAlert stores one alert event. The event UUID is the primary
// key, so a retried insert of the same event is a conflict we ignore.
func (a *Archive) InsertAlert(ctx context.Context, event models.AlertEvent) error {
	query := `
		INSERT INTO alert_history (
			id, rule, node_id, node_name, message, value, threshold,
			triggered_at, is_test
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := a.db.ExecContext(
		ctx, query,
		event.ID,
		event.Rule,
		event.NodeID,
		event.NodeName,
		event.Message,
		event.Value,
		event.Threshold,
		event.TriggeredAt.UTC(),
		event.Test,
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert %s: %w", event.ID, err)
	}
	return nil
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullMetric(metrics map[string]float64, name string) sql.NullFloat64 {
	v, ok := metrics[name]
	if !ok {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

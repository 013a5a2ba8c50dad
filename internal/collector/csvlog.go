package collector

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"meshmon/internal/logger"
	"meshmon/internal/models"
	"meshmon/internal/radio"
)

// csvHeader is written once at the top of each newly created daily log.
var csvHeader = []string{
	"iso_time", "epoch", "node_id", "long_name", "short_name", "snr", "hop",
	"temperature", "humidity", "pressure", "voltage", "current",
	"battery_level", "channel_utilization", "air_util_tx", "uptime",
	"ch3_voltage", "ch3_current", "motion_detected",
}

// csvLogger appends telemetry rows to one file per node per calendar
// day under <dir>/<node-id-without-bang>/<year>/<YYYYMMDD>.csv.
type csvLogger struct {
	dir string
	log *logger.Logger
	mu  sync.Mutex
}

func newCSVLogger(dir string, log *logger.Logger) *csvLogger {
	return &csvLogger{dir: dir, log: log}
}

func (w *csvLogger) path(nodeID string, when time.Time) string {
	return filepath.Join(w.dir, radio.ShortID(nodeID), when.Format("2006"), when.Format("20060102")+".csv")
}

// append writes one row, creating the file with its header on first
// use.
func (w *csvLogger) append(nodeID string, ts int64, row []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	path := w.path(nodeID, time.Unix(ts, 0))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	_, statErr := os.Stat(path)
	isNew := errors.Is(statErr, os.ErrNotExist)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if isNew {
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write log header: %w", err)
		}
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("failed to write log row: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush log row: %w", err)
	}
	return nil
}

// sweep deletes daily files older than retainDays, parsing the date
// from the YYYYMMDD filename, and drops directories left empty.
func (w *csvLogger) sweep(retainDays int, now time.Time) (int, error) {
	y, m, d := now.AddDate(0, 0, -retainDays).Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	nodeDirs, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan log directory: %w", err)
	}

	removed := 0
	for _, nodeDir := range nodeDirs {
		if !nodeDir.IsDir() {
			continue
		}
		nodePath := filepath.Join(w.dir, nodeDir.Name())
		yearDirs, err := os.ReadDir(nodePath)
		if err != nil {
			continue
		}
		for _, yearDir := range yearDirs {
			if !yearDir.IsDir() {
				continue
			}
			yearPath := filepath.Join(nodePath, yearDir.Name())
			files, err := os.ReadDir(yearPath)
			if err != nil {
				continue
			}
			for _, file := range files {
				day, ok := logFileDate(file.Name())
				if !ok || !day.Before(cutoff) {
					continue
				}
				path := filepath.Join(yearPath, file.Name())
				if err := os.Remove(path); err != nil {
					w.log.Warn("Failed to remove old log %s: %v", path, err)
					continue
				}
				w.log.Debug("Removed old log file: %s", path)
				removed++
			}
			// Remove only succeeds on directories the sweep emptied.
			os.Remove(yearPath)
		}
		os.Remove(nodePath)
	}
	return removed, nil
}

// logFileDate parses the YYYYMMDD date out of a daily log filename.
func logFileDate(name string) (time.Time, bool) {
	base, ok := strings.CutSuffix(name, ".csv")
	if !ok {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", base)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// telemetryRow renders one CSV line. Metric cells come from the
// packet's own fields, not the merged record, so each row shows what
// that sample actually carried.
func telemetryRow(nodeID string, rec *models.NodeRecord, pkt radio.Packet, fields map[string]float64, ts int64, motion bool) []string {
	snr := ""
	if pkt.SNR != nil {
		snr = strconv.FormatFloat(*pkt.SNR, 'f', -1, 64)
	}
	hop := ""
	if pkt.HopLimit != nil {
		hop = strconv.Itoa(*pkt.HopLimit)
	}
	return []string{
		time.Unix(ts, 0).Format("2006-01-02T15:04:05"),
		strconv.FormatInt(ts, 10),
		nodeID,
		rec.LongName,
		rec.ShortName,
		snr,
		hop,
		csvFloat(fields, "Temperature"),
		csvFloat(fields, "Humidity"),
		csvFloat(fields, "Pressure"),
		csvFloat(fields, "Voltage"),
		csvFloat(fields, "Current"),
		csvFloat(fields, "Battery Level"),
		csvFloat(fields, "Channel Utilization"),
		csvFloat(fields, "Air Utilization (TX)"),
		csvFloat(fields, "Uptime"),
		csvFloat(fields, "Ch3 Voltage"),
		csvFloat(fields, "Ch3 Current"),
		csvBool(motion),
	}
}

// motionRow is a telemetry-shaped line with no metric cells, recording
// the detection event itself.
func motionRow(nodeID string, rec *models.NodeRecord, ts int64) []string {
	return telemetryRow(nodeID, rec, radio.Packet{}, nil, ts, true)
}

func csvFloat(fields map[string]float64, name string) string {
	v, ok := fields[name]
	if !ok {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func csvBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Package report renders a PDF summary of the mesh: headline stats,
// a per-node table of the latest readings and any ICP status reports.
// A cron schedule (default 08:00 daily) writes it unattended; the API
// can request one on demand.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/robfig/cron/v3"

	"meshmon/internal/collector"
	"meshmon/internal/config"
	"meshmon/internal/logger"
	"meshmon/internal/models"
)

const defaultSchedule = "0 8 * * *"

// Source is the slice of the collector the generator reads. All
// methods return copies, so rendering never blocks packet processing.
type Source interface {
	GetNodesData() map[string]*models.NodeRecord
	GetStats() models.Stats
	GetConnectionStatus() models.ConnectionStatus
	StatusReports() map[string]models.StatusReport
}

type Generator struct {
	cfg *config.Manager
	log *logger.Logger
	src Source

	cron *cron.Cron

	now func() time.Time
}

func NewGenerator(cfg *config.Manager, src Source, log *logger.Logger) *Generator {
	return &Generator{
		cfg: cfg,
		log: log.Component("report"),
		src: src,
		now: time.Now,
	}
}

// Enabled reports whether scheduled generation should run. Generate
// still works on demand when this is false.
func (g *Generator) Enabled() bool {
	return g.cfg.GetBool("reports.enabled", false)
}

// Start registers the cron job and launches the scheduler. A bad cron
// expression is a config error worth failing startup over.
func (g *Generator) Start() error {
	if !g.Enabled() {
		return nil
	}

	schedule := g.cfg.GetString("reports.schedule", defaultSchedule)

	g.cron = cron.New()
	if _, err := g.cron.AddFunc(schedule, g.runScheduled); err != nil {
		return fmt.Errorf("failed to parse reports.schedule %q: %w", schedule, err)
	}
	g.cron.Start()
	g.log.Info("Report schedule active: %s", schedule)
	return nil
}

// Stop halts the scheduler and waits for a running job to finish.
func (g *Generator) Stop() {
	if g.cron == nil {
		return
	}
	ctx := g.cron.Stop()
	<-ctx.Done()
	g.log.Info("Report schedule stopped")
}

func (g *Generator) runScheduled() {
	path, err := g.Generate()
	if err != nil {
		g.log.Error("Scheduled report failed: %v", err)
		return
	}
	g.log.Info("Scheduled report written: %s", path)
}

// Generate renders the summary and returns the path it was written to.
// Files are named by date, so a second run the same day overwrites.
func (g *Generator) Generate() (string, error) {
	outDir := g.cfg.GetString("reports.output_dir", "reports")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}

	now := g.now()
	path := filepath.Join(outDir, "mesh-summary-"+now.Format("20060102")+".pdf")

	pdf := g.render(now)
	if err := pdf.OutputFileAndClose(path); err != nil {
		return "", fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return path, nil
}

func (g *Generator) render(now time.Time) *gofpdf.Fpdf {
	nodes := g.src.GetNodesData()
	stats := g.src.GetStats()
	conn := g.src.GetConnectionStatus()
	reports := g.src.StatusReports()

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Mesh Daily Summary", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Mesh Daily Summary")
	pdf.Ln(9)

	link := "disconnected"
	if conn.Connected {
		link = "connected"
	}
	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, fmt.Sprintf("Generated %s | Radio link %s | Nodes: %d total, %d online",
		now.Format("2006-01-02 15:04:05"), link, stats.TotalNodes, stats.OnlineNodes))
	pdf.Ln(10)

	g.renderNodeTable(pdf, nodes, now)

	if len(reports) > 0 {
		pdf.Ln(6)
		g.renderStatusReports(pdf, reports)
	}

	pdf.SetY(-15)
	pdf.SetFont("Helvetica", "I", 8)
	pdf.Cell(0, 10, "meshmond")
	return pdf
}

func (g *Generator) renderNodeTable(pdf *gofpdf.Fpdf, nodes map[string]*models.NodeRecord, now time.Time) {
	headers := []string{"Node", "Name", "Last Heard", "Batt %", "Volt", "Temp C", "SNR", "Ext %"}
	widths := []float64{22, 42, 34, 15, 15, 16, 14, 15}

	pdf.SetFont("Helvetica", "B", 9)
	pdf.SetFillColor(230, 230, 230)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pdf.SetFont("Helvetica", "", 8)
	fill := false
	pdf.SetFillColor(245, 245, 245)
	for _, id := range ids {
		rec := nodes[id]
		if rec == nil {
			continue
		}

		style := ""
		if rec.Online(now.Unix()) {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 8)

		cells := []string{
			id,
			rec.DisplayName(id),
			lastHeardCell(rec.LastHeard),
			floatCell(rec.BatteryLevel, 0),
			floatCell(rec.Voltage, 2),
			floatCell(rec.Temperature, 1),
			floatCell(rec.SNR, 2),
			externalCell(rec.Ch3Voltage),
		}
		for i, cell := range cells {
			pdf.CellFormat(widths[i], 6, cell, "1", 0, "L", fill, 0, "")
		}
		pdf.Ln(-1)
		fill = !fill
	}
}

func (g *Generator) renderStatusReports(pdf *gofpdf.Fpdf, reports map[string]models.StatusReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Node Status Reports")
	pdf.Ln(8)

	ids := make([]string, 0, len(reports))
	for id := range reports {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	pdf.SetFont("Helvetica", "", 9)
	for _, id := range ids {
		rep := reports[id]
		line := fmt.Sprintf("%s: %s", id, rep.Status)
		if rep.NeedsHelp {
			line += " (NEEDS HELP)"
		}
		for _, reason := range rep.Reasons {
			line += " - " + reason
		}
		pdf.Cell(0, 6, line)
		pdf.Ln(6)
	}
}

func lastHeardCell(p *int64) string {
	if p == nil || *p <= 0 {
		return "never"
	}
	return time.Unix(*p, 0).Format("2006-01-02 15:04")
}

func floatCell(p *float64, prec int) string {
	if p == nil {
		return ""
	}
	return strconv.FormatFloat(*p, 'f', prec, 64)
}

// externalCell maps the Ch3 bus voltage through the LiFePO4 discharge
// curve, same as the dashboard's external battery gauge.
func externalCell(ch3 *float64) string {
	if ch3 == nil {
		return ""
	}
	return strconv.Itoa(collector.ExternalBatteryPercent(*ch3))
}

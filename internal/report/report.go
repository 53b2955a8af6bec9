// Package report renders forecast runs as a CSV table, a plain-text summary,
// and an HTML chart, and writes them to an output directory.
package report

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/rewired-gh/parkcast/internal/models"
)

// Money formats a currency amount with thousands separators and cents.
func Money(v float64) string {
	return "$" + humanize.FormatFloat("#,###.##", v)
}

// Garages returns the union of breakdown garages across the run, sorted.
func Garages(run *models.ForecastRun) []string {
	seen := make(map[string]bool)
	for _, row := range run.Rows {
		for g := range row.GarageBreakdown {
			seen[g] = true
		}
	}
	out := make([]string, 0, len(seen))
	for g := range seen {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// WriteCSV writes one line per forecast date. garages fixes the per-garage
// column order; nil uses every garage in the run.
func WriteCSV(w io.Writer, run *models.ForecastRun, garages []string) error {
	if garages == nil {
		garages = Garages(run)
	}

	cw := csv.NewWriter(w)
	header := []string{
		"date", "day_of_week", "predicted_total_revenue", "mode", "method",
		"lower_bound", "upper_bound", "baseline_revenue", "applied_multiplier",
		"effective_event_category", "events", "low_confidence",
	}
	for _, g := range garages {
		header = append(header, g+"_revenue")
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, row := range run.Rows {
		category := ""
		if row.EventCategory != nil {
			category = string(*row.EventCategory)
		}
		record := []string{
			row.Date.Format(models.DateLayout),
			row.DayOfWeek.String(),
			amount(row.PredictedTotal),
			string(row.Mode),
			row.Method,
			amount(row.LowerBound),
			amount(row.UpperBound),
			amount(row.BaselineRevenue),
			strconv.FormatFloat(row.AppliedMultiplier, 'f', -1, 64),
			category,
			strings.Join(row.Events, "; "),
			strconv.FormatBool(row.LowConfidence),
		}
		for _, g := range garages {
			record = append(record, amount(row.GarageBreakdown[g]))
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func amount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Summary renders a human-readable digest of the run.
func Summary(run *models.ForecastRun, topN int) string {
	var b strings.Builder
	if len(run.Rows) == 0 {
		b.WriteString("Parking revenue forecast: no rows\n")
		return b.String()
	}

	var lower, upper, baseline float64
	for _, row := range run.Rows {
		lower += row.LowerBound
		upper += row.UpperBound
		baseline += row.BaselineRevenue
	}

	fmt.Fprintf(&b, "Parking revenue forecast (%s)\n", run.Mode)
	fmt.Fprintf(&b, "Range: %s to %s (%d days)\n",
		run.Start.Format(models.DateLayout), run.End().Format(models.DateLayout), len(run.Rows))
	fmt.Fprintf(&b, "Total: %s (range %s to %s)\n", Money(run.Total()), Money(lower), Money(upper))
	fmt.Fprintf(&b, "Event uplift over baseline: %s\n", Money(run.Total()-baseline))

	if top := TopEventDays(run, topN); len(top) > 0 {
		b.WriteString("\nTop event days:\n")
		for _, row := range top {
			fmt.Fprintf(&b, "  %s %s  %s  %s x%.2f (%s)\n",
				row.Date.Format(models.DateLayout), row.DayOfWeek.String()[:3], Money(row.PredictedTotal),
				*row.EventCategory, row.AppliedMultiplier, strings.Join(row.Events, ", "))
		}
	}

	garages := Garages(run)
	if len(garages) > 0 {
		b.WriteString("\nGarage totals:\n")
		totals := make(map[string]float64, len(garages))
		for _, row := range run.Rows {
			for g, v := range row.GarageBreakdown {
				totals[g] += v
			}
		}
		for _, g := range garages {
			share := 0.0
			if run.Total() > 0 {
				share = totals[g] / run.Total() * 100
			}
			fmt.Fprintf(&b, "  %-16s %s (%.1f%%)\n", g, Money(totals[g]), share)
		}
	}

	b.WriteString("\nDaily:\n")
	for _, row := range run.Rows {
		fmt.Fprintf(&b, "  %s %s  %s  [%s - %s]",
			row.Date.Format(models.DateLayout), row.DayOfWeek.String()[:3],
			Money(row.PredictedTotal), Money(row.LowerBound), Money(row.UpperBound))
		if row.EventCategory != nil {
			fmt.Fprintf(&b, "  %s", *row.EventCategory)
		}
		if row.LowConfidence {
			b.WriteString("  (low confidence)")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// TopEventDays returns up to n event rows ordered by uplift over baseline.
func TopEventDays(run *models.ForecastRun, n int) []models.ForecastRow {
	var rows []models.ForecastRow
	for _, row := range run.Rows {
		if row.EventCategory != nil {
			rows = append(rows, row)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].EventUplift() > rows[j].EventUplift()
	})
	if n >= 0 && len(rows) > n {
		rows = rows[:n]
	}
	return rows
}

// Files lists what WriteFiles produced.
type Files struct {
	CSV     string
	Summary string
	Chart   string
}

// BaseName is the file stem for a run, e.g. forecast_validated_2025-08-01.
func BaseName(run *models.ForecastRun) string {
	return fmt.Sprintf("forecast_%s_%s", run.Mode, run.Start.Format(models.DateLayout))
}

// WriteFiles writes the CSV, summary and, when chart is set, the HTML chart
// into dir. Each file is written to a temporary path and renamed into place.
func WriteFiles(dir string, run *models.ForecastRun, garages []string, topN int, chart bool) (*Files, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	base := filepath.Join(dir, BaseName(run))
	files := &Files{}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, run, garages); err != nil {
		return nil, err
	}
	files.CSV = base + ".csv"
	if err := writeAtomic(files.CSV, buf.Bytes()); err != nil {
		return nil, err
	}

	files.Summary = base + ".txt"
	if err := writeAtomic(files.Summary, []byte(Summary(run, topN))); err != nil {
		return nil, err
	}

	if chart {
		buf.Reset()
		if err := RenderChart(&buf, run); err != nil {
			return nil, err
		}
		files.Chart = base + ".html"
		if err := writeAtomic(files.Chart, buf.Bytes()); err != nil {
			return nil, err
		}
	}
	return files, nil
}

func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

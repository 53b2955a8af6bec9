package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rewired-gh/parkcast/internal/config"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/models"
)

// writeInputs writes eight weeks of revenue and a one-event calendar into dir.
func writeInputs(t *testing.T, dir string) (string, string) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,Millennium Revenue,Lakeside Revenue,Total Revenue\n")
	start := models.Date(2025, time.June, 1)
	for i := 0; i < 56; i++ {
		d := start.AddDate(0, 0, i)
		total := 10000 + 1000*float64(d.Weekday())
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f\n", d.Format(models.DateLayout), total*0.6, total*0.4, total)
	}
	revenue := filepath.Join(dir, "revenue.csv")
	if err := os.WriteFile(revenue, []byte(b.String()), 0o644); err != nil {
		t.Fatal(err)
	}

	events := filepath.Join(dir, "events.csv")
	content := "Event Name,Start Date,End Date,Category\nBlues Fest,2025-06-14,2025-06-15,festival\n"
	if err := os.WriteFile(events, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return revenue, events
}

func testConfig(t *testing.T, blend bool) *config.Config {
	t.Helper()
	dir := t.TempDir()
	revenue, events := writeInputs(t, dir)

	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`
data:
  revenue_csv: %q
  events_csv: %q
  garages:
    - id: Millennium
    - id: Lakeside
  holidays: false
forecast:
  blend: %t
storage:
  db_path: %q
report:
  output_dir: %q
logging:
  level: error
`, revenue, events, blend, filepath.Join(dir, "parkcast.db"), filepath.Join(dir, "out"))
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Setup(path, nil)
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return cfg
}

func TestLoadInputsAndCalibrate(t *testing.T) {
	cfg := testConfig(t, false)

	in, err := LoadInputs(cfg)
	if err != nil {
		t.Fatalf("LoadInputs failed: %v", err)
	}
	if in.History.Len() != 56 || in.Events.Len() != 1 {
		t.Fatalf("unexpected inputs: %d records, %d events", in.History.Len(), in.Events.Len())
	}

	store, err := OpenStorage(cfg)
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	defer store.Close()

	first, err := EnsureCalibration(store, in, cfg.Calibration, false)
	if err != nil {
		t.Fatalf("EnsureCalibration failed: %v", err)
	}
	if got := first.Baseline[time.Saturday].Amount; got != 16000 {
		t.Errorf("expected Saturday baseline 16000 excluding the festival, got %v", got)
	}
	if first.Shares["Millennium"] < 0.599 || first.Shares["Millennium"] > 0.601 {
		t.Errorf("unexpected shares %v", first.Shares)
	}

	again, err := EnsureCalibration(store, in, cfg.Calibration, false)
	if err != nil {
		t.Fatalf("EnsureCalibration failed: %v", err)
	}
	if again.ID != first.ID {
		t.Errorf("expected stored calibration %s reused, got %s", first.ID, again.ID)
	}

	forced, err := EnsureCalibration(store, in, cfg.Calibration, true)
	if err != nil {
		t.Fatalf("forced calibration failed: %v", err)
	}
	if forced.ID == first.ID {
		t.Error("forced calibration should create a new snapshot")
	}
}

func TestEnsureCalibrationRecalibratesGrownCorpus(t *testing.T) {
	cfg := testConfig(t, false)
	in, err := LoadInputs(cfg)
	if err != nil {
		t.Fatalf("LoadInputs failed: %v", err)
	}
	store, err := OpenStorage(cfg)
	if err != nil {
		t.Fatalf("OpenStorage failed: %v", err)
	}
	defer store.Close()

	first, err := EnsureCalibration(store, in, cfg.Calibration, false)
	if err != nil {
		t.Fatalf("EnsureCalibration failed: %v", err)
	}

	// four more weeks at double the revenue
	records := in.History.Records()
	last := records[len(records)-1].Date
	for i := 1; i <= 28; i++ {
		d := last.AddDate(0, 0, i)
		total := 2 * (10000 + 1000*float64(d.Weekday()))
		records = append(records, models.RevenueRecord{
			Date:          d,
			DayOfWeek:     d.Weekday(),
			GarageRevenue: map[string]float64{"Millennium": total * 0.6, "Lakeside": total * 0.4},
			TotalRevenue:  total,
		})
	}
	grown, err := history.New(records)
	if err != nil {
		t.Fatalf("history.New failed: %v", err)
	}

	cal, err := EnsureCalibration(store, &Inputs{History: grown, Events: in.Events}, cfg.Calibration, false)
	if err != nil {
		t.Fatalf("EnsureCalibration failed: %v", err)
	}
	if cal.ID == first.ID {
		t.Fatal("expected a new calibration for the grown corpus")
	}
	if cal.RecordCount != 84 || !cal.DataTo.Equal(last.AddDate(0, 0, 28)) {
		t.Errorf("calibration covers %d records to %s", cal.RecordCount, cal.DataTo.Format(models.DateLayout))
	}
	if cal.Baseline[time.Saturday].Amount <= 16000 {
		t.Errorf("expected Saturday baseline to rise with the new data, got %v", cal.Baseline[time.Saturday].Amount)
	}

	again, err := EnsureCalibration(store, &Inputs{History: grown, Events: in.Events}, cfg.Calibration, false)
	if err != nil {
		t.Fatalf("EnsureCalibration failed: %v", err)
	}
	if again.ID != cal.ID {
		t.Errorf("expected calibration %s reused for an unchanged corpus, got %s", cal.ID, again.ID)
	}
}

func TestLoadInputsWithoutCalendar(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Data.EventsCSV = ""

	in, err := LoadInputs(cfg)
	if err != nil {
		t.Fatalf("LoadInputs failed: %v", err)
	}
	if in.Events.Len() != 0 {
		t.Errorf("expected empty calendar, got %d events", in.Events.Len())
	}

	cfg.Data.RevenueCSV = filepath.Join(t.TempDir(), "missing.csv")
	if _, err := LoadInputs(cfg); err == nil {
		t.Error("expected error for missing revenue export")
	}
}

func TestLoadInputsAddsHolidays(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Data.Holidays = true

	in, err := LoadInputs(cfg)
	if err != nil {
		t.Fatalf("LoadInputs failed: %v", err)
	}
	if !in.Events.CoveredBy(models.Date(2025, time.July, 4), models.Holiday) {
		t.Error("expected Independence Day in the calendar")
	}
	if !in.Events.CoveredBy(models.Date(2025, time.June, 14), models.Festival) {
		t.Error("expected the exported festival kept")
	}
	if in.Events.Covered(models.Date(2025, time.July, 3)) {
		t.Error("July 3rd is not a holiday")
	}
}

func TestFitModel(t *testing.T) {
	cfg := testConfig(t, false)
	in, err := LoadInputs(cfg)
	if err != nil {
		t.Fatalf("LoadInputs failed: %v", err)
	}

	if FitModel(cfg, in) != nil {
		t.Error("expected no model with blending disabled")
	}

	cfg.Forecast.Blend = true
	model := FitModel(cfg, in)
	if model == nil {
		t.Fatal("expected a fitted model with blending enabled")
	}
	if model.Name() != "ridge" {
		t.Errorf("unexpected model %s", model.Name())
	}
}

func TestNotifierDisabled(t *testing.T) {
	cfg := testConfig(t, false)
	client, err := Notifier(cfg)
	if err != nil || client != nil {
		t.Errorf("expected no client when disabled, got %v, %v", client, err)
	}
}

package main

import (
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/parkcast/internal/app"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/report"
)

var configPath = pflag.String("config", "configs/config.yaml", "Path to configuration file")

func init() {
	pflag.String("revenue", "", "Revenue export CSV")
	pflag.String("events", "", "Event calendar CSV")
	pflag.String("db", "", "SQLite database path")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	pflag.Parse()

	cfg, err := app.Setup(*configPath, pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	in, err := app.LoadInputs(cfg)
	if err != nil {
		logger.Fatal("Failed to load inputs: %v", err)
	}

	store, err := app.OpenStorage(cfg)
	if err != nil {
		logger.Fatal("%v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	cal, err := app.Calibrate(store, in, cfg.Calibration)
	if err != nil {
		logger.Fatal("Calibration failed: %v", err)
	}

	printCalibration(cal)
}

func printCalibration(cal *models.Calibration) {
	fmt.Printf("Calibration %s\n", cal.ID)
	fmt.Printf("Data: %s to %s (%d days)\n\n",
		cal.DataFrom.Format(models.DateLayout), cal.DataTo.Format(models.DateLayout), cal.RecordCount)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "WEEKDAY\tBASELINE\tSAMPLES\tCONFIDENCE")
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		b, ok := cal.Baseline[wd]
		if !ok {
			fmt.Fprintf(w, "%s\t-\t0\tmissing\n", wd)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", wd, report.Money(b.Amount), b.Samples, confidence(b.LowConfidence))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "CATEGORY\tVALIDATED\tCONSERVATIVE\tSAMPLES\tCONFIDENCE")
	for _, c := range models.Categories() {
		m, ok := cal.Multipliers[c]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "%s\t%.3f\t%.3f\t%d\t%s\n", c, m.Validated, m.Conservative, m.Samples, confidence(m.LowConfidence))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "GARAGE\tSHARE")
	for _, g := range cal.Shares.Garages() {
		fmt.Fprintf(w, "%s\t%.1f%%\n", g, cal.Shares[g]*100)
	}
	_ = w.Flush()
}

func confidence(low bool) string {
	if low {
		return "low"
	}
	return "ok"
}

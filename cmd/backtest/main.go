package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/parkcast/internal/app"
	"github.com/rewired-gh/parkcast/internal/backtest"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/report"
)

var (
	configPath = pflag.String("config", "configs/config.yaml", "Path to configuration file")
	starts     = pflag.StringSlice("start", nil, "Window start dates (YYYY-MM-DD); overrides backtest.starts")
	horizon    = pflag.Int("horizon", 0, "Days per window; overrides backtest.horizon_days")
	asJSON     = pflag.Bool("json", false, "Print the result as JSON")
)

func init() {
	pflag.String("revenue", "", "Revenue export CSV")
	pflag.String("events", "", "Event calendar CSV")
	pflag.String("mode", string(models.ModeValidated), "Multiplier mode: validated or conservative")
	pflag.Bool("blend", false, "Refit and blend a ridge regression per window")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	pflag.Parse()

	cfg, err := app.Setup(*configPath, pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	dates, err := cfg.Backtest.StartDates()
	if err != nil {
		logger.Fatal("%v", err)
	}
	if len(*starts) > 0 {
		dates = dates[:0]
		for _, s := range *starts {
			d, err := time.Parse(models.DateLayout, s)
			if err != nil {
				logger.Fatal("Invalid --start %q: expected YYYY-MM-DD", s)
			}
			dates = append(dates, d)
		}
	}
	if len(dates) == 0 {
		logger.Fatal("No backtest windows: set backtest.starts or pass --start")
	}

	days := cfg.Backtest.HorizonDays
	if *horizon > 0 {
		days = *horizon
	}

	in, err := app.LoadInputs(cfg)
	if err != nil {
		logger.Fatal("Failed to load inputs: %v", err)
	}

	result, err := backtest.Run(in.History, in.Events, dates, backtest.Config{
		Horizon:   days,
		Mode:      cfg.Forecast.ParsedMode(),
		Policy:    cfg.Calibration,
		Forecast:  cfg.Forecast.Options,
		Predictor: app.Predictor(cfg),
	})
	if err != nil {
		logger.Fatal("Backtest failed: %v", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			logger.Fatal("Failed to encode result: %v", err)
		}
		return
	}
	printResult(result)
}

func printResult(result *backtest.Result) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "START\tTRAINING\tPREDICTED\tACTUAL\tTOTAL ERR\tMAPE\tNOTE")
	for _, win := range result.Windows {
		if win.Skipped {
			fmt.Fprintf(w, "%s\t%d\t-\t-\t-\t-\tskipped: %s\n",
				win.Start.Format(models.DateLayout), win.TrainingDays, win.Reason)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%+.1f%%\t%.1f%%\t\n",
			win.Start.Format(models.DateLayout), win.TrainingDays,
			report.Money(win.PredictedTotal), report.Money(win.ActualTotal),
			win.TotalErrorPct, win.MAPE)
	}
	_ = w.Flush()
	fmt.Printf("\nOverall MAPE %.2f%% over %d scored days\n", result.MAPE, result.DaysScored)
}

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/parkcast/internal/app"
	"github.com/rewired-gh/parkcast/internal/config"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/report"
	"github.com/rewired-gh/parkcast/internal/telegram"
)

var (
	configPath  = pflag.String("config", "configs/config.yaml", "Path to configuration file")
	startDate   = pflag.String("start", "", "First forecast date (YYYY-MM-DD, default tomorrow)")
	recalibrate = pflag.Bool("recalibrate", false, "Calibrate from the inputs instead of using the stored snapshot")
	notify      = pflag.Bool("notify", true, "Send the summary to Telegram when enabled")
)

func init() {
	pflag.String("revenue", "", "Revenue export CSV")
	pflag.String("events", "", "Event calendar CSV")
	pflag.Int("days", 7, "Forecast horizon in days")
	pflag.String("mode", string(models.ModeValidated), "Multiplier mode: validated or conservative")
	pflag.Bool("blend", false, "Blend a ridge regression into the forecast")
	pflag.String("db", "", "SQLite database path")
	pflag.String("out", "", "Report output directory")
	pflag.Bool("chart", true, "Write an HTML chart")
	pflag.String("log-level", "info", "Log level: debug, info, warn, error")
}

func main() {
	pflag.Parse()

	cfg, err := app.Setup(*configPath, pflag.CommandLine)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	start := models.Day(time.Now()).AddDate(0, 0, 1)
	if *startDate != "" {
		start, err = time.Parse(models.DateLayout, *startDate)
		if err != nil {
			logger.Fatal("Invalid --start %q: expected YYYY-MM-DD", *startDate)
		}
	}

	var notifier *telegram.Client
	if *notify {
		notifier, err = app.Notifier(cfg)
		if err != nil {
			logger.Fatal("%v", err)
		}
	}

	run, files, err := execute(cfg, start)
	if err != nil {
		logger.Error("Forecast failed: %v", err)
		if notifier != nil {
			if sendErr := notifier.SendError("Parking forecast", err); sendErr != nil {
				logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
			}
		}
		os.Exit(1)
	}

	fmt.Print(report.Summary(run, cfg.Report.TopEvents))
	logger.Info("Wrote %s and %s", files.CSV, files.Summary)
	if files.Chart != "" {
		logger.Info("Wrote chart %s", files.Chart)
	}

	if notifier != nil {
		if err := notifier.SendReport(run); err != nil {
			logger.Warn("Failed to send forecast to Telegram: %v", err)
		}
	}
}

func execute(cfg *config.Config, start time.Time) (*models.ForecastRun, *report.Files, error) {
	in, err := app.LoadInputs(cfg)
	if err != nil {
		return nil, nil, err
	}

	store, err := app.OpenStorage(cfg)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	cal, err := app.EnsureCalibration(store, in, cfg.Calibration, *recalibrate)
	if err != nil {
		return nil, nil, fmt.Errorf("calibration failed: %w", err)
	}

	engine := forecast.New(cal, in.Events, in.History, cfg.Forecast.Options, app.FitModel(cfg, in))
	run, err := engine.Run(start, cfg.Forecast.HorizonDays, cfg.Forecast.ParsedMode())
	if err != nil {
		return nil, nil, err
	}
	if err := store.SaveForecastRun(run); err != nil {
		logger.Warn("Failed to save forecast run %s: %v", run.ID, err)
	}

	files, err := report.WriteFiles(cfg.Report.OutputDir, run, cal.Shares.Garages(), cfg.Report.TopEvents, cfg.Report.Chart)
	if err != nil {
		return nil, nil, err
	}
	return run, files, nil
}

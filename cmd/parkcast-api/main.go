package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rewired-gh/parkcast/internal/api"
	"github.com/rewired-gh/parkcast/internal/app"
	"github.com/rewired-gh/parkcast/internal/logger"
)

var (
	configPath  = pflag.String("config", "configs/config.yaml", "Path to configuration file")
	recalibrate = pflag.Bool("recalibrate", false, "Calibrate from the inputs at startup")
)

func init() {
	pflag.String("revenue", "", "Revenue export CSV")
	pflag.String("events", "", "Event calendar CSV")
	pflag.Bool("blend", false, "Blend a ridge regression into forecasts")
	pflag.String("db", "", "SQLite database path")
	pflag.String("addr", ":8080", "Listen address")
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

	// the server always forecasts from the latest stored snapshot
	if _, err := app.EnsureCalibration(store, in, cfg.Calibration, *recalibrate); err != nil {
		logger.Fatal("Calibration failed: %v", err)
	}

	srv := api.NewServer(api.Deps{
		Store:          store,
		Events:         in.Events,
		History:        in.History,
		Options:        cfg.Forecast.Options,
		Model:          app.FitModel(cfg, in),
		DefaultHorizon: cfg.Forecast.HorizonDays,
		DefaultMode:    cfg.Forecast.ParsedMode(),
		SaveRuns:       cfg.Server.SaveRuns,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.ListenAndServe(ctx, cfg.Server.Addr, cfg.Server.ReadTimeout, cfg.Server.WriteTimeout); err != nil {
		logger.Error("Server failed: %v", err)
		return
	}
	logger.Info("Service stopped")
}

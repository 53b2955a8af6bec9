// Package app wires configuration, inputs, persistence and notification for
// the parkcast commands.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/calibration"
	"github.com/rewired-gh/parkcast/internal/config"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/regression"
	"github.com/rewired-gh/parkcast/internal/storage"
	"github.com/rewired-gh/parkcast/internal/telegram"
)

// Setup loads .env, reads and validates configuration, and initialises
// logging. A missing .env file is not an error.
func Setup(configPath string, flags *pflag.FlagSet) (*config.Config, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configPath, flags)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	if configPath != "" {
		logger.Info("Configuration loaded from %s", configPath)
	}
	return cfg, nil
}

// Inputs are the loaded revenue history and event calendar.
type Inputs struct {
	History *history.Store
	Events  *calendar.Calendar
}

// LoadInputs reads the revenue export and, when configured, the event calendar.
func LoadInputs(cfg *config.Config) (*Inputs, error) {
	hist, err := history.ReadFile(cfg.Data.RevenueCSV, cfg.HistoryOptions())
	if err != nil {
		return nil, err
	}
	from, to := hist.Span()
	logger.Info("Loaded %d revenue days (%s to %s) across garages %v",
		hist.Len(), from.Format(models.DateLayout), to.Format(models.DateLayout), hist.Garages())

	events := calendar.Empty()
	if cfg.Data.EventsCSV != "" {
		events, err = calendar.ReadFile(cfg.Data.EventsCSV, cfg.CalendarOptions())
		if err != nil {
			return nil, err
		}
		logger.Info("Loaded %d events", events.Len())
	} else {
		logger.Warn("No event calendar configured; forecasting baseline only")
	}

	if cfg.Data.Holidays {
		// cover the history and a year of forecasts past the later of its end and today
		until := to
		if today := models.Day(time.Now()); today.After(until) {
			until = today
		}
		events, err = events.WithHolidays(from, until.AddDate(1, 0, 0))
		if err != nil {
			return nil, err
		}
	}

	return &Inputs{History: hist, Events: events}, nil
}

// OpenStorage opens the configured database.
func OpenStorage(cfg *config.Config) (*storage.Storage, error) {
	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxCalibrations)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

// Calibrate runs a calibration over the inputs and stores the snapshot.
func Calibrate(store *storage.Storage, in *Inputs, policy calibration.Policy) (*models.Calibration, error) {
	cal, err := calibration.Run(in.History, in.Events, policy)
	if err != nil {
		return nil, err
	}
	if err := store.SaveCalibration(cal); err != nil {
		return nil, err
	}
	return cal, nil
}

// EnsureCalibration returns the latest stored snapshot, calibrating first
// when none exists, the snapshot was taken over a different corpus, or force is set.
func EnsureCalibration(store *storage.Storage, in *Inputs, policy calibration.Policy, force bool) (*models.Calibration, error) {
	if !force {
		cal, err := store.LatestCalibration()
		switch {
		case err == nil && coversCorpus(cal, in.History):
			logger.Info("Using calibration %s from %s", cal.ID, cal.CreatedAt.Format("2006-01-02 15:04:05"))
			return cal, nil
		case err == nil:
			from, to := in.History.Span()
			logger.Info("Calibration %s covers %d days (%s to %s) but the corpus has %d (%s to %s), recalibrating",
				cal.ID, cal.RecordCount, cal.DataFrom.Format(models.DateLayout), cal.DataTo.Format(models.DateLayout),
				in.History.Len(), from.Format(models.DateLayout), to.Format(models.DateLayout))
		case errors.Is(err, storage.ErrNotFound):
			logger.Info("No stored calibration, calibrating now")
		default:
			return nil, err
		}
	}
	return Calibrate(store, in, policy)
}

// coversCorpus reports whether cal was computed over the same record span as hist.
func coversCorpus(cal *models.Calibration, hist *history.Store) bool {
	from, to := hist.Span()
	return cal.RecordCount == hist.Len() &&
		models.Day(cal.DataFrom).Equal(from) &&
		models.Day(cal.DataTo).Equal(to)
}

// Predictor returns the configured regression predictor, or nil when
// blending is disabled.
func Predictor(cfg *config.Config) forecast.Predictor {
	if !cfg.Forecast.Blend {
		return nil
	}
	return &regression.RidgePredictor{Lambda: cfg.Forecast.RidgeLambda}
}

// FitModel fits the configured predictor on the full history. A fit failure
// is logged and yields no model, so forecasts stay multiplier based.
func FitModel(cfg *config.Config, in *Inputs) forecast.Model {
	p := Predictor(cfg)
	if p == nil {
		return nil
	}
	model, err := p.Fit(in.History.Records(), in.Events)
	if err != nil {
		logger.Warn("Failed to fit regression model, blending disabled: %v", err)
		return nil
	}
	logger.Info("Fitted %s model for blending (weight %.2f)", model.Name(), cfg.Forecast.Options.BlendWeight)
	return model
}

// Notifier returns a Telegram client, or nil when notifications are disabled.
func Notifier(cfg *config.Config) (*telegram.Client, error) {
	if !cfg.Telegram.Enabled {
		logger.Debug("Telegram notifications disabled")
		return nil, nil
	}
	client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
		cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase, cfg.Report.TopEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
	}
	logger.Info("Telegram client initialized successfully")
	return client, nil
}

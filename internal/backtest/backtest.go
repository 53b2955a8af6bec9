// Package backtest replays the calibrate-then-forecast cycle over past windows
// and scores each forecast against the revenue actually observed.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/calibration"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

// Config controls a backtest.
type Config struct {
	Horizon  int
	Mode     models.Mode
	Policy   calibration.Policy
	Forecast forecast.Options
	// Predictor, when set, is refitted per window and blended in.
	Predictor forecast.Predictor
}

// Day compares one forecast date with its actual revenue.
type Day struct {
	Date      time.Time `json:"date"`
	Predicted float64   `json:"predicted"`
	Actual    float64   `json:"actual"`
	HasActual bool      `json:"has_actual"`
	// APE is the absolute percentage error, set only for positive actuals.
	APE float64 `json:"ape,omitempty"`
}

// Window is the outcome for one forecast start date.
type Window struct {
	Start          time.Time `json:"start"`
	CalibrationID  string    `json:"calibration_id,omitempty"`
	TrainingDays   int       `json:"training_days"`
	Days           []Day     `json:"days,omitempty"`
	PredictedTotal float64   `json:"predicted_total"`
	ActualTotal    float64   `json:"actual_total"`
	// TotalErrorPct is the signed error of the window total against actuals.
	TotalErrorPct float64 `json:"total_error_pct"`
	MAPE          float64 `json:"mape"`
	Skipped       bool    `json:"skipped"`
	Reason        string  `json:"reason,omitempty"`
}

// Result aggregates every window.
type Result struct {
	Windows []Window `json:"windows"`
	// MAPE is the mean absolute percentage error over every scored day.
	MAPE       float64 `json:"mape"`
	DaysScored int     `json:"days_scored"`
}

// Run backtests each start date. Each window is calibrated only on records
// strictly before its start. Windows that cannot be calibrated or forecast are
// reported as skipped rather than failing the run.
func Run(store *history.Store, events *calendar.Calendar, starts []time.Time, cfg Config) (*Result, error) {
	if store == nil || store.Len() == 0 {
		return nil, errors.New("backtest needs revenue history")
	}
	if len(starts) == 0 {
		return nil, errors.New("backtest needs at least one window start")
	}
	if cfg.Horizon <= 0 {
		return nil, &models.ConfigurationError{Reason: fmt.Sprintf("horizon must be at least 1 day, got %d", cfg.Horizon)}
	}

	result := &Result{}
	var apeSum float64
	for _, start := range starts {
		w := runWindow(store, events, models.Day(start), cfg)
		if w.Skipped {
			logger.Warn("Backtest window %s skipped: %s", w.Start.Format(models.DateLayout), w.Reason)
		} else {
			for _, d := range w.Days {
				if d.HasActual && d.Actual > 0 {
					apeSum += d.APE
					result.DaysScored++
				}
			}
			logger.Info("Backtest window %s: predicted %.2f actual %.2f (%+.1f%%), MAPE %.1f%%",
				w.Start.Format(models.DateLayout), w.PredictedTotal, w.ActualTotal, w.TotalErrorPct, w.MAPE)
		}
		result.Windows = append(result.Windows, w)
	}
	if result.DaysScored > 0 {
		result.MAPE = apeSum / float64(result.DaysScored)
	}
	return result, nil
}

func runWindow(store *history.Store, events *calendar.Calendar, start time.Time, cfg Config) Window {
	w := Window{Start: start}

	train := store.Before(start)
	w.TrainingDays = train.Len()
	if train.Len() == 0 {
		w.Skipped, w.Reason = true, "no history before window start"
		return w
	}

	cal, err := calibration.Run(train, events, cfg.Policy)
	if err != nil {
		w.Skipped, w.Reason = true, err.Error()
		return w
	}
	w.CalibrationID = cal.ID

	var model forecast.Model
	if cfg.Predictor != nil {
		model, err = cfg.Predictor.Fit(train.Records(), events)
		if err != nil {
			logger.Warn("Backtest window %s: model fit failed, multiplier forecast only: %v", start.Format(models.DateLayout), err)
			model = nil
		}
	}

	rows, err := forecast.New(cal, events, train, cfg.Forecast, model).Forecast(start, cfg.Horizon, cfg.Mode)
	if err != nil {
		w.Skipped, w.Reason = true, err.Error()
		return w
	}

	var apeSum float64
	var scored int
	for _, row := range rows {
		d := Day{Date: row.Date, Predicted: row.PredictedTotal}
		d.Actual, d.HasActual = store.TotalOn(row.Date)
		if d.HasActual {
			w.PredictedTotal += d.Predicted
			w.ActualTotal += d.Actual
			if d.Actual > 0 {
				d.APE = math.Abs(d.Predicted-d.Actual) / d.Actual * 100
				apeSum += d.APE
				scored++
			}
		}
		w.Days = append(w.Days, d)
	}

	if scored == 0 {
		w.Skipped, w.Reason = true, "no actual revenue inside the window"
		return w
	}
	w.MAPE = apeSum / float64(scored)
	if w.ActualTotal > 0 {
		w.TotalErrorPct = (w.PredictedTotal - w.ActualTotal) / w.ActualTotal * 100
	}
	return w
}

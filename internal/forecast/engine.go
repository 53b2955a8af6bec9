// Package forecast turns a calibration snapshot and an event calendar into daily
// revenue forecasts.
//
// For each date the engine looks up the weekday baseline, resolves overlapping
// events to one effective category by priority, applies that category's
// multiplier, and widens the confidence band when the baseline or multiplier
// came from a fallback. When a statistical Model is supplied its prediction is
// blended with the multiplier forecast.
//
// An Engine holds no mutable state. Forecast may be called concurrently and
// always returns the same rows for the same inputs.
package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

// Options are the engine's tunable constants.
type Options struct {
	BandValidated     float64 `mapstructure:"band_validated"`
	BandLowConfidence float64 `mapstructure:"band_low_confidence"`
	BlendWeight       float64 `mapstructure:"blend_weight"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		BandValidated:     0.15,
		BandLowConfidence: 0.25,
		BlendWeight:       0.5,
	}
}

// Validate checks that all option values are valid
func (o Options) Validate() error {
	if o.BandValidated < 0 || o.BandValidated >= 1 {
		return errors.New("band_validated must be in [0, 1)")
	}
	if o.BandLowConfidence < o.BandValidated || o.BandLowConfidence >= 1 {
		return errors.New("band_low_confidence must be in [band_validated, 1)")
	}
	if o.BlendWeight < 0 || o.BlendWeight > 1 {
		return errors.New("blend_weight must be between 0 and 1")
	}
	return nil
}

// Model is a fitted statistical forecaster.
type Model interface {
	Name() string
	Predict(q models.PredictionQuery) (models.Prediction, error)
}

// Predictor fits a Model on historical records.
type Predictor interface {
	Fit(records []models.RevenueRecord, events *calendar.Calendar) (Model, error)
}

// Engine produces forecasts from one calibration snapshot.
type Engine struct {
	cal     *models.Calibration
	events  *calendar.Calendar
	history *history.Store
	opts    Options
	model   Model
}

// New creates an engine. events, hist and model may be nil: a nil calendar
// has no events, a nil history gives the model no observed lags, and a nil
// model makes every forecast purely multiplier based.
func New(cal *models.Calibration, events *calendar.Calendar, hist *history.Store, opts Options, model Model) *Engine {
	return &Engine{
		cal:     cal,
		events:  events,
		history: hist,
		opts:    opts,
		model:   model,
	}
}

// Calibration returns the snapshot the engine forecasts from.
func (e *Engine) Calibration() *models.Calibration {
	return e.cal
}

// ModelName returns the blended model's name, or "" without one.
func (e *Engine) ModelName() string {
	if e.model == nil {
		return ""
	}
	return e.model.Name()
}

// Forecast returns one row per date from start for horizon days. Any error
// aborts the whole call; no partial rows are returned.
func (e *Engine) Forecast(start time.Time, horizon int, mode models.Mode) ([]models.ForecastRow, error) {
	if horizon <= 0 {
		return nil, &models.ConfigurationError{Reason: fmt.Sprintf("horizon must be at least 1 day, got %d", horizon)}
	}
	mode, err := models.ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	if e.cal == nil || len(e.cal.Baseline) == 0 || len(e.cal.Multipliers) == 0 {
		return nil, &models.ConfigurationError{Reason: "baseline and multiplier tables have not been calibrated"}
	}
	if err := e.opts.Validate(); err != nil {
		return nil, &models.ConfigurationError{Reason: err.Error()}
	}

	forecast := make(map[time.Time]float64, horizon)
	lookup := func(d time.Time) (float64, bool) {
		d = models.Day(d)
		if v, ok := forecast[d]; ok {
			return v, true
		}
		if e.history == nil {
			return 0, false
		}
		return e.history.TotalOn(d)
	}

	rows := make([]models.ForecastRow, 0, horizon)
	day := models.Day(start)
	for i := 0; i < horizon; i++ {
		date := day.AddDate(0, 0, i)
		row, err := e.forecastDay(date, mode, lookup)
		if err != nil {
			return nil, err
		}
		forecast[date] = row.PredictedTotal
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *Engine) forecastDay(date time.Time, mode models.Mode, lookup func(time.Time) (float64, bool)) (models.ForecastRow, error) {
	wd := date.Weekday()
	base, ok := e.cal.Baseline[wd]
	if !ok {
		return models.ForecastRow{}, &models.MissingBaselineError{Weekday: wd}
	}

	row := models.ForecastRow{
		Date:              date,
		DayOfWeek:         wd,
		BaselineRevenue:   base.Amount,
		AppliedMultiplier: 1.0,
		Mode:              mode,
		Method:            models.MethodMultiplier,
		LowConfidence:     base.LowConfidence,
	}

	active := e.events.EventsOn(date)
	if len(active) > 0 {
		category, _ := ResolveCategory(active)
		multiplier, ok := e.cal.Multipliers.Lookup(category, mode)
		if !ok {
			return models.ForecastRow{}, &models.ConfigurationError{Reason: fmt.Sprintf("no multiplier calibrated for %s", category)}
		}
		row.EventCategory = &category
		row.AppliedMultiplier = multiplier
		row.LowConfidence = row.LowConfidence || e.cal.Multipliers[category].LowConfidence
		for _, ev := range active {
			row.Events = append(row.Events, ev.Name)
		}
	}

	band := e.opts.BandValidated
	if row.LowConfidence {
		band = e.opts.BandLowConfidence
	}
	row.PredictedTotal = row.BaselineRevenue * row.AppliedMultiplier
	row.LowerBound = row.PredictedTotal * (1 - band)
	row.UpperBound = row.PredictedTotal * (1 + band)

	if e.model != nil {
		e.blend(&row, len(active) > 0, lookup)
	}

	row.GarageBreakdown = make(map[string]float64, len(e.cal.Shares))
	for _, g := range e.cal.Shares.Garages() {
		row.GarageBreakdown[g] = row.PredictedTotal * e.cal.Shares[g]
	}
	return row, nil
}

// blend mixes the model prediction into row. A model failure leaves the
// multiplier forecast in place.
func (e *Engine) blend(row *models.ForecastRow, eventActive bool, lookup func(time.Time) (float64, bool)) {
	pred, err := e.model.Predict(models.PredictionQuery{
		Date:        row.Date,
		EventActive: eventActive,
		Lookup:      lookup,
	})
	if err != nil {
		logger.Warn("Model %s failed for %s, using multiplier forecast: %v",
			e.model.Name(), row.Date.Format(models.DateLayout), err)
		return
	}
	if math.IsNaN(pred.Point) || math.IsInf(pred.Point, 0) {
		logger.Warn("Model %s returned %v for %s, using multiplier forecast",
			e.model.Name(), pred.Point, row.Date.Format(models.DateLayout))
		return
	}

	w := e.opts.BlendWeight
	point := math.Max(0, w*pred.Point+(1-w)*row.PredictedTotal)
	lower := w*pred.Lower + (1-w)*row.LowerBound
	upper := w*pred.Upper + (1-w)*row.UpperBound

	row.PredictedTotal = point
	row.LowerBound = math.Max(0, math.Min(lower, point))
	row.UpperBound = math.Max(upper, point)
	row.Method = models.MethodBlended
}

// Run forecasts and wraps the rows with run metadata.
func (e *Engine) Run(start time.Time, horizon int, mode models.Mode) (*models.ForecastRun, error) {
	rows, err := e.Forecast(start, horizon, mode)
	if err != nil {
		return nil, err
	}
	run := &models.ForecastRun{
		ID:            uuid.New().String(),
		CalibrationID: e.cal.ID,
		CreatedAt:     time.Now().UTC(),
		Start:         models.Day(start),
		Horizon:       horizon,
		Mode:          rows[0].Mode,
		Rows:          rows,
	}
	logger.Info("Forecast %s: %d days from %s (%s), total %.2f",
		run.ID, horizon, run.Start.Format(models.DateLayout), run.Mode, run.Total())
	return run, nil
}

// ResolveCategory returns the highest-priority category among events. It
// reports false for an empty slice.
func ResolveCategory(events []models.Event) (models.Category, bool) {
	if len(events) == 0 {
		return "", false
	}
	best := events[0].Category
	for _, ev := range events[1:] {
		if ev.Category.Priority() > best.Priority() {
			best = ev.Category
		}
	}
	return best, true
}

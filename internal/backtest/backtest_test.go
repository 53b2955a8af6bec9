package backtest

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/calibration"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/models"
)

var start = models.Date(2025, time.June, 1) // Sunday

func weeklyStore(t *testing.T, days int, bump map[time.Time]float64) *history.Store {
	t.Helper()
	var records []models.RevenueRecord
	for i := 0; i < days; i++ {
		d := start.AddDate(0, 0, i)
		total := 10000 + 1000*float64(d.Weekday())
		if f, ok := bump[d]; ok {
			total *= f
		}
		records = append(records, models.RevenueRecord{
			Date:          d,
			DayOfWeek:     d.Weekday(),
			GarageRevenue: map[string]float64{"A": total * 0.75, "B": total * 0.25},
			TotalRevenue:  total,
		})
	}
	store, err := history.New(records)
	require.NoError(t, err)
	return store
}

func config() Config {
	return Config{
		Horizon:  7,
		Mode:     models.ModeValidated,
		Policy:   calibration.DefaultPolicy(),
		Forecast: forecast.DefaultOptions(),
	}
}

func TestRun_PerfectWeeklyPattern(t *testing.T) {
	store := weeklyStore(t, 70, nil)

	result, err := Run(store, calendar.Empty(), []time.Time{start.AddDate(0, 0, 42), start.AddDate(0, 0, 56)}, config())
	require.NoError(t, err)

	require.Len(t, result.Windows, 2)
	for _, w := range result.Windows {
		assert.False(t, w.Skipped, w.Reason)
		assert.Len(t, w.Days, 7)
		assert.InDelta(t, 0.0, w.MAPE, 1e-9)
		assert.InDelta(t, w.ActualTotal, w.PredictedTotal, 1e-6)
	}
	assert.Equal(t, 42, result.Windows[0].TrainingDays)
	assert.Equal(t, 14, result.DaysScored)
	assert.InDelta(t, 0.0, result.MAPE, 1e-9)
}

func TestRun_EventWindowUsesCalibratedMultiplier(t *testing.T) {
	// four festival Saturdays before the window and one inside it, all at 1.5x
	var events []models.Event
	bump := make(map[time.Time]float64)
	for _, week := range []int{2, 3, 4, 5, 7} {
		d := start.AddDate(0, 0, 7*week-1) // Saturday
		bump[d] = 1.5
		events = append(events, models.Event{Name: "Street Fest", Category: models.Festival, Start: d, End: d})
	}
	cal, err := calendar.New(events)
	require.NoError(t, err)
	store := weeklyStore(t, 56, bump)

	result, err := Run(store, cal, []time.Time{start.AddDate(0, 0, 42)}, config())
	require.NoError(t, err)

	w := result.Windows[0]
	require.False(t, w.Skipped, w.Reason)
	assert.InDelta(t, 0.0, w.MAPE, 1e-9)
}

func TestRun_SkipsWindows(t *testing.T) {
	store := weeklyStore(t, 28, nil)

	result, err := Run(store, nil, []time.Time{start, start.AddDate(0, 0, 60)}, config())
	require.NoError(t, err)

	assert.True(t, result.Windows[0].Skipped, "nothing before the first record")
	assert.True(t, result.Windows[1].Skipped, "no actuals after the last record")
	assert.Equal(t, 0, result.DaysScored)
}

func TestRun_PartialWeekSkipsOnMissingBaseline(t *testing.T) {
	store := weeklyStore(t, 28, nil)

	// three days of history cannot cover every weekday in a 7 day window
	result, err := Run(store, nil, []time.Time{start.AddDate(0, 0, 3)}, config())
	require.NoError(t, err)
	assert.True(t, result.Windows[0].Skipped)
	assert.Contains(t, result.Windows[0].Reason, "no baseline")
}

type failingPredictor struct{}

func (failingPredictor) Fit([]models.RevenueRecord, *calendar.Calendar) (forecast.Model, error) {
	return nil, errors.New("boom")
}

func TestRun_PredictorFailureFallsBack(t *testing.T) {
	cfg := config()
	cfg.Predictor = failingPredictor{}

	result, err := Run(weeklyStore(t, 42, nil), nil, []time.Time{start.AddDate(0, 0, 35)}, cfg)
	require.NoError(t, err)
	assert.False(t, result.Windows[0].Skipped)
}

func TestRun_InvalidArguments(t *testing.T) {
	store := weeklyStore(t, 14, nil)

	_, err := Run(nil, nil, []time.Time{start}, config())
	assert.Error(t, err)

	_, err = Run(store, nil, nil, config())
	assert.Error(t, err)

	cfg := config()
	cfg.Horizon = 0
	_, err = Run(store, nil, []time.Time{start}, cfg)
	var cfgErr *models.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

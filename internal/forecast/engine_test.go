package forecast

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/models"
)

func testCalibration() *models.Calibration {
	baseline := make(models.Baseline, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		baseline[wd] = models.DayBaseline{Weekday: wd, Amount: 40000 + float64(wd)*1000, Samples: 8}
	}
	baseline[time.Saturday] = models.DayBaseline{Weekday: time.Saturday, Amount: 74934, Samples: 8}

	table := make(models.MultiplierTable)
	values := map[models.Category]float64{
		models.Lollapalooza:       1.67,
		models.MajorPerformance:   1.40,
		models.Sports:             1.30,
		models.Festival:           1.25,
		models.RegularPerformance: 1.20,
		models.Holiday:            1.15,
		models.Other:              1.10,
	}
	for c, v := range values {
		table[c] = models.CategoryMultiplier{Category: c, Validated: v, Conservative: 1 + (v-1)*0.6, Samples: 6}
	}

	return &models.Calibration{
		ID:          "cal-1",
		Baseline:    baseline,
		Shares:      models.GarageShares{"Millennium": 0.5, "Lakeside": 0.3, "GPN": 0.2},
		Multipliers: table,
	}
}

func mustCalendar(t *testing.T, events ...models.Event) *calendar.Calendar {
	t.Helper()
	cal, err := calendar.New(events)
	require.NoError(t, err)
	return cal
}

var (
	aug2   = models.Date(2025, time.August, 2) // Saturday
	lolla  = models.Event{Name: "Lollapalooza", Category: models.Lollapalooza, Start: models.Date(2025, time.July, 31), End: models.Date(2025, time.August, 3)}
	fest   = models.Event{Name: "Blues Fest", Category: models.Festival, Start: models.Date(2025, time.September, 1), End: models.Date(2025, time.September, 1)}
	labor  = models.Event{Name: "Labor Day", Category: models.Holiday, Start: models.Date(2025, time.September, 1), End: models.Date(2025, time.September, 1)}
	sports = models.Event{Name: "Cubs", Category: models.Sports, Start: aug2, End: aug2}
)

func TestForecast_LollapaloozaSaturday(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, lolla), nil, DefaultOptions(), nil)

	rows, err := engine.Forecast(aug2, 1, models.ModeValidated)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, time.Saturday, row.DayOfWeek)
	assert.Equal(t, 74934.0, row.BaselineRevenue)
	assert.Equal(t, 1.67, row.AppliedMultiplier)
	require.NotNil(t, row.EventCategory)
	assert.Equal(t, models.Lollapalooza, *row.EventCategory)
	assert.InDelta(t, 74934*1.67, row.PredictedTotal, 0.005)
	assert.InDelta(t, row.PredictedTotal*0.85, row.LowerBound, 1e-6)
	assert.InDelta(t, row.PredictedTotal*1.15, row.UpperBound, 1e-6)
	assert.Equal(t, models.MethodMultiplier, row.Method)
	assert.Equal(t, []string{"Lollapalooza"}, row.Events)
}

func TestForecast_LollapaloozaOutranksOverlap(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, sports, lolla), nil, DefaultOptions(), nil)

	for _, mode := range []models.Mode{models.ModeValidated, models.ModeConservative} {
		rows, err := engine.Forecast(aug2, 1, mode)
		require.NoError(t, err)
		want, _ := testCalibration().Multipliers.Lookup(models.Lollapalooza, mode)
		assert.Equal(t, want, rows[0].AppliedMultiplier, "mode %s", mode)
		assert.Len(t, rows[0].Events, 2)
	}
}

func TestForecast_FestivalBeatsHoliday(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, labor, fest), nil, DefaultOptions(), nil)

	rows, err := engine.Forecast(models.Date(2025, time.September, 1), 1, models.ModeValidated)
	require.NoError(t, err)

	require.NotNil(t, rows[0].EventCategory)
	assert.Equal(t, models.Festival, *rows[0].EventCategory)
	assert.Equal(t, 1.25, rows[0].AppliedMultiplier)
}

func TestForecast_NoEventMultiplierIsOne(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, lolla), nil, DefaultOptions(), nil)

	rows, err := engine.Forecast(models.Date(2025, time.August, 4), 14, models.ModeConservative)
	require.NoError(t, err)
	require.Len(t, rows, 14)

	for _, row := range rows {
		assert.True(t, row.AppliedMultiplier == 1.0, "%s: multiplier %v", row.Date.Format(models.DateLayout), row.AppliedMultiplier)
		assert.Nil(t, row.EventCategory)
		assert.Equal(t, row.BaselineRevenue, row.PredictedTotal)
	}
}

func TestForecast_BreakdownReconciles(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, lolla, fest, labor), nil, DefaultOptions(), nil)

	rows, err := engine.Forecast(models.Date(2025, time.July, 28), 60, models.ModeValidated)
	require.NoError(t, err)

	for _, row := range rows {
		var sum float64
		for _, v := range row.GarageBreakdown {
			sum += v
		}
		assert.InDelta(t, row.PredictedTotal, sum, models.ReconcileTolerance)
		assert.Len(t, row.GarageBreakdown, 3)
		assert.NoError(t, row.Validate())
	}
}

func TestForecast_Horizon(t *testing.T) {
	engine := New(testCalibration(), nil, nil, DefaultOptions(), nil)

	for _, h := range []int{0, -3} {
		rows, err := engine.Forecast(aug2, h, models.ModeValidated)
		var cfgErr *models.ConfigurationError
		assert.ErrorAs(t, err, &cfgErr, "horizon %d", h)
		assert.Nil(t, rows)
	}

	rows, err := engine.Forecast(aug2, 1, models.ModeValidated)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestForecast_ConfigurationErrors(t *testing.T) {
	var cfgErr *models.ConfigurationError

	_, err := New(nil, nil, nil, DefaultOptions(), nil).Forecast(aug2, 7, models.ModeValidated)
	assert.ErrorAs(t, err, &cfgErr, "missing calibration")

	empty := testCalibration()
	empty.Multipliers = nil
	_, err = New(empty, nil, nil, DefaultOptions(), nil).Forecast(aug2, 7, models.ModeValidated)
	assert.ErrorAs(t, err, &cfgErr, "missing multiplier table")

	_, err = New(testCalibration(), nil, nil, DefaultOptions(), nil).Forecast(aug2, 7, models.Mode("optimistic"))
	assert.ErrorAs(t, err, &cfgErr, "unsupported mode")

	bad := DefaultOptions()
	bad.BandLowConfidence = 0.05
	_, err = New(testCalibration(), nil, nil, bad, nil).Forecast(aug2, 7, models.ModeValidated)
	assert.ErrorAs(t, err, &cfgErr, "invalid options")
}

func TestForecast_MissingBaseline(t *testing.T) {
	cal := testCalibration()
	delete(cal.Baseline, time.Tuesday)
	engine := New(cal, nil, nil, DefaultOptions(), nil)

	// Aug 4 2025 is a Monday, the Tuesday is the second row
	rows, err := engine.Forecast(models.Date(2025, time.August, 4), 7, models.ModeValidated)
	var missing *models.MissingBaselineError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, time.Tuesday, missing.Weekday)
	assert.Nil(t, rows, "no partial rows on error")
}

func TestForecast_LowConfidenceWidensBand(t *testing.T) {
	cal := testCalibration()
	cal.Baseline[time.Monday] = models.DayBaseline{Weekday: time.Monday, Amount: 1000, Samples: 2, LowConfidence: true}
	holiday := cal.Multipliers[models.Holiday]
	holiday.LowConfidence = true
	cal.Multipliers[models.Holiday] = holiday

	memorial := models.Event{Name: "Memorial Day", Category: models.Holiday, Start: models.Date(2025, time.May, 26), End: models.Date(2025, time.May, 26)}
	engine := New(cal, mustCalendar(t, memorial), nil, DefaultOptions(), nil)

	// Monday with low-confidence baseline
	rows, err := engine.Forecast(models.Date(2025, time.August, 4), 2, models.ModeValidated)
	require.NoError(t, err)
	assert.True(t, rows[0].LowConfidence)
	assert.InDelta(t, 750.0, rows[0].LowerBound, 1e-9)
	assert.InDelta(t, 1250.0, rows[0].UpperBound, 1e-9)
	assert.False(t, rows[1].LowConfidence)

	// low-confidence multiplier propagates too
	cal.Baseline[time.Monday] = models.DayBaseline{Weekday: time.Monday, Amount: 1000, Samples: 8}
	rows, err = engine.Forecast(models.Date(2025, time.May, 26), 1, models.ModeValidated)
	require.NoError(t, err)
	assert.True(t, rows[0].LowConfidence)
	assert.InDelta(t, 1150*0.75, rows[0].LowerBound, 1e-9)
}

func TestForecast_Idempotent(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, lolla, fest, labor, sports), nil, DefaultOptions(), nil)

	first, err := engine.Forecast(models.Date(2025, time.July, 1), 90, models.ModeValidated)
	require.NoError(t, err)
	second, err := engine.Forecast(models.Date(2025, time.July, 1), 90, models.ModeValidated)
	require.NoError(t, err)

	if !reflect.DeepEqual(first, second) {
		t.Fatal("repeated forecasts differ")
	}
	for i := range first {
		if math.Float64bits(first[i].PredictedTotal) != math.Float64bits(second[i].PredictedTotal) {
			t.Errorf("row %d not bit-identical", i)
		}
	}
}

type stubModel struct {
	point   float64
	spread  float64
	failOn  time.Time
	queries []models.PredictionQuery
}

func (m *stubModel) Name() string { return "stub" }

func (m *stubModel) Predict(q models.PredictionQuery) (models.Prediction, error) {
	m.queries = append(m.queries, q)
	if q.Date.Equal(m.failOn) {
		return models.Prediction{}, errors.New("not enough lags")
	}
	return models.Prediction{Point: m.point, Lower: m.point - m.spread, Upper: m.point + m.spread}, nil
}

func TestForecast_Blended(t *testing.T) {
	cal := testCalibration()
	aug4 := models.Date(2025, time.August, 4) // Monday, baseline 41000
	model := &stubModel{point: 51000, spread: 2000, failOn: aug4.AddDate(0, 0, 1)}

	opts := DefaultOptions()
	opts.BlendWeight = 0.25
	engine := New(cal, nil, nil, opts, model)
	assert.Equal(t, "stub", engine.ModelName())

	rows, err := engine.Forecast(aug4, 3, models.ModeValidated)
	require.NoError(t, err)

	mon := rows[0]
	assert.Equal(t, models.MethodBlended, mon.Method)
	assert.InDelta(t, 0.25*51000+0.75*41000, mon.PredictedTotal, 1e-9)
	assert.InDelta(t, 0.25*49000+0.75*41000*0.85, mon.LowerBound, 1e-9)
	assert.InDelta(t, 0.25*53000+0.75*41000*1.15, mon.UpperBound, 1e-9)
	assert.NoError(t, mon.Validate())

	// model failure falls back to the multiplier forecast for that date only
	tue := rows[1]
	assert.Equal(t, models.MethodMultiplier, tue.Method)
	assert.Equal(t, 42000.0, tue.PredictedTotal)
	assert.Equal(t, models.MethodBlended, rows[2].Method)

	// later dates see earlier forecast rows through Lookup
	require.Len(t, model.queries, 3)
	v, ok := model.queries[2].Lookup(aug4)
	assert.True(t, ok)
	assert.Equal(t, mon.PredictedTotal, v)
}

func TestForecast_BlendedLookupReadsHistory(t *testing.T) {
	prev := models.Date(2025, time.August, 3)
	store, err := history.New([]models.RevenueRecord{{
		Date:          prev,
		DayOfWeek:     prev.Weekday(),
		GarageRevenue: map[string]float64{"Millennium": 90000},
		TotalRevenue:  90000,
	}})
	require.NoError(t, err)

	model := &stubModel{point: 40000}
	engine := New(testCalibration(), nil, store, DefaultOptions(), model)
	_, err = engine.Forecast(models.Date(2025, time.August, 4), 1, models.ModeValidated)
	require.NoError(t, err)

	v, ok := model.queries[0].Lookup(prev)
	assert.True(t, ok)
	assert.Equal(t, 90000.0, v)
	_, ok = model.queries[0].Lookup(prev.AddDate(0, 0, -1))
	assert.False(t, ok)
}

func TestRun(t *testing.T) {
	engine := New(testCalibration(), mustCalendar(t, lolla), nil, DefaultOptions(), nil)

	run, err := engine.Run(models.Date(2025, time.July, 28), 7, models.ModeConservative)
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, "cal-1", run.CalibrationID)
	assert.Equal(t, models.ModeConservative, run.Mode)
	assert.Len(t, run.Rows, 7)
	assert.True(t, run.End().Equal(models.Date(2025, time.August, 3)))

	_, err = engine.Run(aug2, 0, models.ModeConservative)
	assert.Error(t, err)
}

func TestResolveCategory(t *testing.T) {
	_, ok := ResolveCategory(nil)
	assert.False(t, ok)

	c, ok := ResolveCategory([]models.Event{labor, fest, sports})
	assert.True(t, ok)
	assert.Equal(t, models.Sports, c)

	c, _ = ResolveCategory([]models.Event{labor, labor})
	assert.Equal(t, models.Holiday, c)
}

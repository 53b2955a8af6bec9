// Package regression fits a ridge regression on daily revenue for blending
// with the multiplier forecast.
//
// Features per date: intercept, weekday indicators (Sunday is the reference),
// revenue one and seven days earlier, the trailing seven-day mean, and an
// event flag. Lag features are standardised using the training mean and
// spread.
package regression

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/forecast"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

const (
	// z-score of the two-sided 95% interval
	interval95 = 1.96

	colLag1    = 7
	colLag7    = 8
	colRoll7   = 9
	colEvent   = 10
	numColumns = 11

	minLambda = 1e-8
)

// ErrInsufficientData is returned when too few dates have complete lags.
var ErrInsufficientData = errors.New("not enough history with complete lags to fit")

var _ forecast.Predictor = (*RidgePredictor)(nil)

// RidgePredictor fits ridge regressions. Lambda is the penalty on every
// coefficient except the intercept.
type RidgePredictor struct {
	Lambda float64
}

// Fit trains a model on records. Dates without seven prior days of revenue are skipped.
func (p *RidgePredictor) Fit(records []models.RevenueRecord, events *calendar.Calendar) (forecast.Model, error) {
	if p.Lambda < 0 {
		return nil, fmt.Errorf("ridge lambda must not be negative, got %v", p.Lambda)
	}

	totals := make(map[time.Time]float64, len(records))
	for _, r := range records {
		totals[models.Day(r.Date)] = r.TotalRevenue
	}
	lookup := func(d time.Time) (float64, bool) {
		v, ok := totals[models.Day(d)]
		return v, ok
	}

	var rows [][]float64
	var target []float64
	for _, r := range records {
		d := models.Day(r.Date)
		x, ok := rawFeatures(d, events.Covered(d), lookup)
		if !ok {
			continue
		}
		rows = append(rows, x)
		target = append(target, r.TotalRevenue)
	}
	if len(rows) <= numColumns {
		return nil, fmt.Errorf("%w: %d usable dates, need more than %d", ErrInsufficientData, len(rows), numColumns)
	}

	m := &ridgeModel{}
	for _, col := range []int{colLag1, colLag7, colRoll7} {
		values := make([]float64, len(rows))
		for i, x := range rows {
			values[i] = x[col]
		}
		mean, std := stat.MeanStdDev(values, nil)
		if std == 0 || math.IsNaN(std) {
			std = 1
		}
		m.mean[col], m.scale[col] = mean, std
	}

	X := mat.NewDense(len(rows), numColumns, nil)
	for i, x := range rows {
		X.SetRow(i, m.standardise(x))
	}
	y := mat.NewVecDense(len(target), target)

	var gram mat.Dense
	gram.Mul(X.T(), X)
	lambda := math.Max(p.Lambda, minLambda)
	for j := 1; j < numColumns; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var xty mat.VecDense
	xty.MulVec(X.T(), y)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &xty); err != nil {
		return nil, fmt.Errorf("failed to solve ridge normal equations: %w", err)
	}
	m.beta = mat.Col(nil, 0, &beta)

	var fitted mat.VecDense
	fitted.MulVec(X, &beta)
	residuals := make([]float64, len(target))
	for i := range target {
		residuals[i] = target[i] - fitted.AtVec(i)
	}
	m.sigma = stat.StdDev(residuals, nil)

	logger.Info("Fitted ridge model on %d dates (lambda %g), residual sigma %.2f", len(rows), lambda, m.sigma)
	return m, nil
}

type ridgeModel struct {
	beta  []float64
	mean  [numColumns]float64
	scale [numColumns]float64
	sigma float64
}

func (m *ridgeModel) Name() string { return "ridge" }

// Predict returns the point estimate floored at zero with a 95% interval.
func (m *ridgeModel) Predict(q models.PredictionQuery) (models.Prediction, error) {
	x, ok := rawFeatures(models.Day(q.Date), q.EventActive, q.Lookup)
	if !ok {
		return models.Prediction{}, fmt.Errorf("missing lagged revenue before %s", q.Date.Format(models.DateLayout))
	}
	xs := m.standardise(x)

	var point float64
	for j, b := range m.beta {
		point += b * xs[j]
	}
	half := interval95 * m.sigma
	return models.Prediction{
		Point: math.Max(0, point),
		Lower: math.Max(0, point-half),
		Upper: math.Max(0, point+half),
	}, nil
}

func (m *ridgeModel) standardise(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, col := range []int{colLag1, colLag7, colRoll7} {
		out[col] = (x[col] - m.mean[col]) / m.scale[col]
	}
	return out
}

// rawFeatures builds the unscaled feature row for d. It reports false when
// any of the seven previous days is unknown.
func rawFeatures(d time.Time, event bool, lookup func(time.Time) (float64, bool)) ([]float64, bool) {
	if lookup == nil {
		return nil, false
	}
	var lags [7]float64
	for k := 1; k <= 7; k++ {
		v, ok := lookup(d.AddDate(0, 0, -k))
		if !ok {
			return nil, false
		}
		lags[k-1] = v
	}

	x := make([]float64, numColumns)
	x[0] = 1
	if wd := d.Weekday(); wd != time.Sunday {
		x[int(wd)] = 1
	}
	x[colLag1] = lags[0]
	x[colLag7] = lags[6]
	x[colRoll7] = stat.Mean(lags[:], nil)
	if event {
		x[colEvent] = 1
	}
	return x, true
}

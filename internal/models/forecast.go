package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Forecast methods recorded on each row.
const (
	MethodMultiplier = "multiplier"
	MethodBlended    = "blended"
)

// ForecastRow is one forecast date. Rows are never mutated after creation.
type ForecastRow struct {
	Date              time.Time          `json:"date"`
	DayOfWeek         time.Weekday       `json:"day_of_week"`
	BaselineRevenue   float64            `json:"baseline_revenue"`
	AppliedMultiplier float64            `json:"applied_multiplier"`
	EventCategory     *Category          `json:"effective_event_category"`
	Events            []string           `json:"events,omitempty"`
	PredictedTotal    float64            `json:"predicted_total_revenue"`
	LowerBound        float64            `json:"lower_bound"`
	UpperBound        float64            `json:"upper_bound"`
	GarageBreakdown   map[string]float64 `json:"per_garage_breakdown"`
	Mode              Mode               `json:"mode"`
	Method            string             `json:"method"`
	LowConfidence     bool               `json:"low_confidence"`
}

// Validate checks bounds ordering and breakdown reconciliation.
func (r *ForecastRow) Validate() error {
	if r.Date.IsZero() {
		return errors.New("forecast date must be set")
	}
	if r.PredictedTotal < 0 {
		return errors.New("predicted revenue must not be negative")
	}
	if r.LowerBound > r.PredictedTotal || r.UpperBound < r.PredictedTotal {
		return errors.New("bounds must enclose the predicted revenue")
	}
	var sum float64
	for _, v := range r.GarageBreakdown {
		sum += v
	}
	if len(r.GarageBreakdown) > 0 && math.Abs(sum-r.PredictedTotal) > ReconcileTolerance {
		return fmt.Errorf("garage breakdown sums to %.2f, predicted %.2f", sum, r.PredictedTotal)
	}
	return nil
}

// EventUplift is the revenue attributed to events on this date.
func (r *ForecastRow) EventUplift() float64 {
	return r.PredictedTotal - r.BaselineRevenue
}

// ForecastRun groups the rows produced by one forecast call.
type ForecastRun struct {
	ID            string        `json:"id"`
	CalibrationID string        `json:"calibration_id"`
	CreatedAt     time.Time     `json:"created_at"`
	Start         time.Time     `json:"start"`
	Horizon       int           `json:"horizon"`
	Mode          Mode          `json:"mode"`
	Rows          []ForecastRow `json:"rows"`
}

// Total sums predicted revenue across the run.
func (r *ForecastRun) Total() float64 {
	var sum float64
	for _, row := range r.Rows {
		sum += row.PredictedTotal
	}
	return sum
}

// End returns the last forecast date, or Start when the run is empty.
func (r *ForecastRun) End() time.Time {
	if len(r.Rows) == 0 {
		return r.Start
	}
	return r.Rows[len(r.Rows)-1].Date
}

// PredictionQuery is what the forecast engine hands a statistical model for one date.
// Lookup returns the known or already-forecast total revenue for an earlier date.
type PredictionQuery struct {
	Date        time.Time
	EventActive bool
	Lookup      func(date time.Time) (float64, bool)
}

// Prediction is a model's point estimate with an interval.
type Prediction struct {
	Point float64
	Lower float64
	Upper float64
}

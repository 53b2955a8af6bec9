package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ReconcileTolerance is the allowed gap between a total and the sum of its parts.
const ReconcileTolerance = 0.01

// RevenueRecord is one observed day across all garages.
type RevenueRecord struct {
	Date          time.Time          `json:"date"`
	DayOfWeek     time.Weekday       `json:"day_of_week"`
	GarageRevenue map[string]float64 `json:"garage_revenue"`
	GarageUnits   map[string]int     `json:"garage_units,omitempty"`
	TotalRevenue  float64            `json:"total_revenue"`
	TotalUnits    int                `json:"total_units,omitempty"`
	AvgValue      float64            `json:"avg_reservation_value,omitempty"`
	Temperature   float64            `json:"temperature,omitempty"`
	EventFlag     bool               `json:"event_flag,omitempty"`
	Notes         string             `json:"notes,omitempty"`
}

// Clone returns a copy of r that shares no maps with it.
func (r RevenueRecord) Clone() RevenueRecord {
	out := r
	if r.GarageRevenue != nil {
		out.GarageRevenue = make(map[string]float64, len(r.GarageRevenue))
		for g, v := range r.GarageRevenue {
			out.GarageRevenue[g] = v
		}
	}
	if r.GarageUnits != nil {
		out.GarageUnits = make(map[string]int, len(r.GarageUnits))
		for g, v := range r.GarageUnits {
			out.GarageUnits[g] = v
		}
	}
	return out
}

// GarageSum returns the sum of per-garage revenue.
func (r *RevenueRecord) GarageSum() float64 {
	var sum float64
	for _, g := range r.Garages() {
		sum += r.GarageRevenue[g]
	}
	return sum
}

// Garages returns the garage ids of the record in sorted order.
func (r *RevenueRecord) Garages() []string {
	ids := make([]string, 0, len(r.GarageRevenue))
	for id := range r.GarageRevenue {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that all record fields are valid
func (r *RevenueRecord) Validate() error {
	if r.Date.IsZero() {
		return errors.New("record date must be set")
	}
	if r.DayOfWeek != r.Date.Weekday() {
		return fmt.Errorf("day of week %s does not match date %s", r.DayOfWeek, r.Date.Format(DateLayout))
	}
	if r.TotalRevenue < 0 {
		return errors.New("total revenue must not be negative")
	}
	for g, v := range r.GarageRevenue {
		if v < 0 {
			return fmt.Errorf("revenue for garage %s must not be negative", g)
		}
	}
	if math.Abs(r.TotalRevenue-r.GarageSum()) > ReconcileTolerance {
		return fmt.Errorf("total revenue %.2f does not reconcile with garage sum %.2f", r.TotalRevenue, r.GarageSum())
	}
	return nil
}

// DateLayout is the ISO calendar date format used in every output.
const DateLayout = "2006-01-02"

// Day normalises t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

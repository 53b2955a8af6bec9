// Package calibration derives the tables the forecast engine reads: per-weekday
// revenue baselines, garage revenue shares, and per-category event multipliers.
//
// Calibration is an explicit offline step. The forecast engine never calls it;
// it consumes a finished models.Calibration snapshot.
package calibration

import (
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

// Policy holds the thresholds that shape a calibration run.
type Policy = models.CalibrationPolicy

// DefaultPolicy returns the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinBaselineSamples: 4,
		MinEventSamples:    4,
		DampingFactor:      0.6,
		MultiplierCap:      3.0,
		Defaults:           DefaultMultipliers(),
	}
}

// DefaultMultipliers is the fallback multiplier per category used when a
// category has too few historical event days to calibrate.
func DefaultMultipliers() map[models.Category]float64 {
	return map[models.Category]float64{
		models.Lollapalooza:       1.67,
		models.MajorPerformance:   1.40,
		models.Sports:             1.30,
		models.Festival:           1.25,
		models.RegularPerformance: 1.20,
		models.Holiday:            1.15,
		models.Other:              1.10,
	}
}

// ErrNoRecords is returned when there is no history to calibrate from.
var ErrNoRecords = errors.New("no revenue records to calibrate from")

// ComputeBaseline returns the mean total revenue per weekday over dates no event
// covers. A weekday with fewer than MinBaselineSamples clean dates falls back to
// the mean over all its dates and is flagged low-confidence. Weekdays with no
// records at all are absent from the result.
func ComputeBaseline(records []models.RevenueRecord, cal *calendar.Calendar, policy Policy) (models.Baseline, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration policy: %w", err)
	}

	var all, clean [7][]float64
	for _, r := range records {
		wd := r.Date.Weekday()
		all[wd] = append(all[wd], r.TotalRevenue)
		if !cal.Covered(r.Date) {
			clean[wd] = append(clean[wd], r.TotalRevenue)
		}
	}

	baseline := make(models.Baseline, 7)
	for i := range all {
		wd := time.Weekday(i)
		if len(all[wd]) == 0 {
			logger.Warn("No records for %s, baseline left empty", wd)
			continue
		}

		if len(clean[wd]) >= policy.MinBaselineSamples {
			baseline[wd] = models.DayBaseline{
				Weekday: wd,
				Amount:  mean(clean[wd]),
				Samples: len(clean[wd]),
			}
			continue
		}

		logger.Warn("%s has %d event-free samples (minimum %d), using all %d records",
			wd, len(clean[wd]), policy.MinBaselineSamples, len(all[wd]))
		baseline[wd] = models.DayBaseline{
			Weekday:       wd,
			Amount:        mean(all[wd]),
			Samples:       len(all[wd]),
			LowConfidence: true,
		}
	}
	return baseline, nil
}

// ComputeShares returns each garage's fraction of corpus revenue, independent of events.
func ComputeShares(records []models.RevenueRecord) (models.GarageShares, error) {
	if len(records) == 0 {
		return nil, ErrNoRecords
	}

	totals := make(map[string]float64)
	var sum float64
	for i := range records {
		for _, g := range records[i].Garages() {
			v := records[i].GarageRevenue[g]
			totals[g] += v
			sum += v
		}
	}
	if sum <= 0 {
		return nil, errors.New("total historical revenue is zero, cannot compute garage shares")
	}

	shares := make(models.GarageShares, len(totals))
	for g, v := range totals {
		shares[g] = v / sum
	}
	return shares, nil
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

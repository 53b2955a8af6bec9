package calibration

import (
	"errors"
	"fmt"
	"math"

	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

// CalibrateMultipliers derives the validated and conservative multiplier for
// every category. The validated multiplier is the mean total revenue on dates a
// category covers divided by the mean baseline of those dates' weekdays,
// clamped to [1, MultiplierCap]. The conservative multiplier keeps
// DampingFactor of the boost above 1. Categories with fewer than
// MinEventSamples covered dates use the policy default and are flagged
// low-confidence.
func CalibrateMultipliers(records []models.RevenueRecord, cal *calendar.Calendar, baseline models.Baseline, policy Policy) (models.MultiplierTable, error) {
	if len(baseline) == 0 {
		return nil, errors.New("baseline must be computed before multipliers")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid calibration policy: %w", err)
	}

	table := make(models.MultiplierTable, len(models.Categories()))
	for _, c := range models.Categories() {
		var revenue, expected []float64
		for _, r := range records {
			if !cal.CoveredBy(r.Date, c) {
				continue
			}
			day, ok := baseline[r.Date.Weekday()]
			if !ok {
				continue
			}
			revenue = append(revenue, r.TotalRevenue)
			expected = append(expected, day.Amount)
		}

		m := models.CategoryMultiplier{Category: c, Samples: len(revenue)}
		base := 0.0
		if len(expected) > 0 {
			base = mean(expected)
		}

		if len(revenue) < policy.MinEventSamples || base <= 0 {
			m.Validated = defaultFor(c, policy)
			m.LowConfidence = true
			logger.Debug("%s has %d event days (minimum %d), using default %.2f",
				c, len(revenue), policy.MinEventSamples, m.Validated)
		} else {
			m.Validated = clamp(mean(revenue)/base, 1, policy.MultiplierCap)
		}
		m.Conservative = 1 + (m.Validated-1)*policy.DampingFactor
		table[c] = m
	}
	return table, nil
}

func defaultFor(c models.Category, policy Policy) float64 {
	if v, ok := policy.Defaults[c]; ok {
		return v
	}
	return 1.0
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

package models

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// ShareTolerance bounds how far garage shares may drift from summing to one.
const ShareTolerance = 0.001

// DayBaseline is the expected revenue for one weekday.
type DayBaseline struct {
	Weekday       time.Weekday `json:"weekday"`
	Amount        float64      `json:"amount"`
	Samples       int          `json:"samples"`
	LowConfidence bool         `json:"low_confidence"`
}

// Baseline maps each weekday to its expected revenue.
type Baseline map[time.Weekday]DayBaseline

// Validate checks that all baseline amounts are non-negative.
func (b Baseline) Validate() error {
	for wd, day := range b {
		if day.Weekday != wd {
			return fmt.Errorf("baseline entry for %s labelled %s", wd, day.Weekday)
		}
		if day.Amount < 0 || math.IsNaN(day.Amount) {
			return fmt.Errorf("baseline for %s must be a non-negative amount", wd)
		}
	}
	return nil
}

// GarageShares maps a garage id to its fraction of total revenue.
type GarageShares map[string]float64

// Garages returns the garage ids in sorted order.
func (s GarageShares) Garages() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks shares lie in [0,1] and sum to one within ShareTolerance.
func (s GarageShares) Validate() error {
	if len(s) == 0 {
		return errors.New("garage shares must not be empty")
	}
	var sum float64
	for _, g := range s.Garages() {
		v := s[g]
		if v < 0 || v > 1 {
			return fmt.Errorf("share for garage %s must be between 0 and 1", g)
		}
		sum += v
	}
	if math.Abs(sum-1) > ShareTolerance {
		return fmt.Errorf("garage shares sum to %.4f, expected 1", sum)
	}
	return nil
}

// CategoryMultiplier holds the calibrated impact factors for one category.
type CategoryMultiplier struct {
	Category      Category `json:"category"`
	Validated     float64  `json:"validated"`
	Conservative  float64  `json:"conservative"`
	Samples       int      `json:"samples"`
	LowConfidence bool     `json:"low_confidence"`
}

// MultiplierTable maps each category to its calibrated multipliers.
type MultiplierTable map[Category]CategoryMultiplier

// Lookup returns the multiplier for category c in the given mode.
func (t MultiplierTable) Lookup(c Category, mode Mode) (float64, bool) {
	m, ok := t[c]
	if !ok {
		return 0, false
	}
	if mode == ModeConservative {
		return m.Conservative, true
	}
	return m.Validated, true
}

// Validate checks every multiplier is at least 1.0 and conservative never exceeds validated.
func (t MultiplierTable) Validate() error {
	for c, m := range t {
		if m.Validated < 1 || m.Conservative < 1 {
			return fmt.Errorf("multipliers for %s must be at least 1.0", c)
		}
		if m.Conservative > m.Validated {
			return fmt.Errorf("conservative multiplier for %s exceeds validated", c)
		}
	}
	return nil
}

// CalibrationPolicy holds the thresholds that shape a calibration run.
type CalibrationPolicy struct {
	MinBaselineSamples int                  `json:"min_baseline_samples" mapstructure:"min_baseline_samples"`
	MinEventSamples    int                  `json:"min_event_samples" mapstructure:"min_event_samples"`
	DampingFactor      float64              `json:"damping_factor" mapstructure:"damping_factor"`
	MultiplierCap      float64              `json:"multiplier_cap" mapstructure:"multiplier_cap"`
	Defaults           map[Category]float64 `json:"defaults" mapstructure:"defaults"`
}

// Validate checks that all policy fields are valid
func (p *CalibrationPolicy) Validate() error {
	if p.MinBaselineSamples < 1 {
		return errors.New("min baseline samples must be at least 1")
	}
	if p.MinEventSamples < 1 {
		return errors.New("min event samples must be at least 1")
	}
	if p.DampingFactor < 0 || p.DampingFactor >= 1 {
		return errors.New("damping factor must be in [0, 1)")
	}
	if p.MultiplierCap < 1 {
		return errors.New("multiplier cap must be at least 1.0")
	}
	for c, v := range p.Defaults {
		if !c.Valid() {
			return fmt.Errorf("default multiplier for unknown category %q", c)
		}
		if v < 1 {
			return fmt.Errorf("default multiplier for %s must be at least 1.0", c)
		}
	}
	return nil
}

// Calibration is one immutable calibrated snapshot consumed by the forecast engine.
type Calibration struct {
	ID          string            `json:"id"`
	CreatedAt   time.Time         `json:"created_at"`
	RecordCount int               `json:"record_count"`
	DataFrom    time.Time         `json:"data_from"`
	DataTo      time.Time         `json:"data_to"`
	Baseline    Baseline          `json:"baseline"`
	Shares      GarageShares      `json:"shares"`
	Multipliers MultiplierTable   `json:"multipliers"`
	Policy      CalibrationPolicy `json:"policy"`
}

// Validate checks that the snapshot is complete enough to forecast from.
func (c *Calibration) Validate() error {
	if c.ID == "" {
		return errors.New("calibration ID must not be empty")
	}
	if len(c.Baseline) == 0 {
		return errors.New("calibration has no baseline")
	}
	if len(c.Multipliers) == 0 {
		return errors.New("calibration has no multiplier table")
	}
	if err := c.Baseline.Validate(); err != nil {
		return err
	}
	if err := c.Shares.Validate(); err != nil {
		return err
	}
	return c.Multipliers.Validate()
}

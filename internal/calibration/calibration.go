package calibration

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rewired-gh/parkcast/internal/calendar"
	"github.com/rewired-gh/parkcast/internal/history"
	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
)

// Run calibrates baseline, shares, and multipliers from the full store.
func Run(store *history.Store, cal *calendar.Calendar, policy Policy) (*models.Calibration, error) {
	if store == nil || store.Len() == 0 {
		return nil, ErrNoRecords
	}
	records := store.Records()

	baseline, err := ComputeBaseline(records, cal, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to compute baseline: %w", err)
	}
	shares, err := ComputeShares(records)
	if err != nil {
		return nil, fmt.Errorf("failed to compute garage shares: %w", err)
	}
	multipliers, err := CalibrateMultipliers(records, cal, baseline, policy)
	if err != nil {
		return nil, fmt.Errorf("failed to calibrate multipliers: %w", err)
	}

	from, to := store.Span()
	c := &models.Calibration{
		ID:          uuid.New().String(),
		CreatedAt:   time.Now().UTC(),
		RecordCount: store.Len(),
		DataFrom:    from,
		DataTo:      to,
		Baseline:    baseline,
		Shares:      shares,
		Multipliers: multipliers,
		Policy:      policy,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("calibration failed validation: %w", err)
	}

	lowConfidence := 0
	for _, m := range multipliers {
		if m.LowConfidence {
			lowConfidence++
		}
	}
	logger.Info("Calibrated %s from %d records (%s to %s): %d weekdays, %d garages, %d/%d categories on defaults",
		c.ID, c.RecordCount, from.Format(models.DateLayout), to.Format(models.DateLayout),
		len(baseline), len(shares), lowConfidence, len(multipliers))
	return c, nil
}

package models

import (
	"errors"
	"fmt"
	"time"
)

// Event is one calendar entry. Start and End are inclusive calendar dates;
// single-day events have Start == End.
type Event struct {
	Name     string    `json:"name"`
	Category Category  `json:"category"`
	Start    time.Time `json:"start_date"`
	End      time.Time `json:"end_date"`
}

// Validate checks that all event fields are valid
func (e *Event) Validate() error {
	if e.Name == "" {
		return errors.New("event name must not be empty")
	}
	if !e.Category.Valid() {
		return fmt.Errorf("unknown event category %q", e.Category)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return errors.New("event dates must be set")
	}
	if e.Start.After(e.End) {
		return fmt.Errorf("start date %s is after end date %s", e.Start.Format(DateLayout), e.End.Format(DateLayout))
	}
	return nil
}

// Covers reports whether date falls inside the event span.
func (e *Event) Covers(date time.Time) bool {
	d := Day(date)
	return !d.Before(Day(e.Start)) && !d.After(Day(e.End))
}

// Days returns every calendar date of the span in order.
func (e *Event) Days() []time.Time {
	var days []time.Time
	for d := Day(e.Start); !d.After(Day(e.End)); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

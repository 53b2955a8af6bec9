// Package calendar holds the event calendar: categorised events with inclusive
// multi-day spans, indexed by date so overlapping events can be resolved.
package calendar

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/tabular"
)

// Canonical field names produced by the header rules.
const (
	FieldName      = "name"
	FieldCategory  = "category"
	FieldStartDate = "start_date"
	FieldEndDate   = "end_date"
)

var rules = []tabular.Rule{
	{Canonical: FieldStartDate, Match: tabular.Contains([]string{"start"})},
	{Canonical: FieldEndDate, Match: tabular.Contains([]string{"end", "date"}, "calendar")},
	{Canonical: FieldEndDate, Match: tabular.Equals("end", "ends", "through")},
	{Canonical: FieldCategory, Match: tabular.Contains([]string{"categor"})},
	{Canonical: FieldCategory, Match: tabular.Contains([]string{"type"})},
	{Canonical: FieldName, Match: tabular.Equals("event", "event name", "name", "events", "title")},
	// calendars with a single date column
	{Canonical: FieldStartDate, Match: tabular.Equals("date", "event date")},
}

// Options controls how a calendar export is interpreted.
type Options struct {
	// DefaultYear completes yearless dates such as "Fri, Aug 1".
	DefaultYear int
	Source      string
}

// ReadFile reads the calendar export at path.
func ReadFile(path string, opts Options) (*Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event calendar: %w", err)
	}
	defer f.Close()
	if opts.Source == "" {
		opts.Source = path
	}
	return ReadCSV(f, opts)
}

// ReadCSV reads a calendar export and loads it.
func ReadCSV(r io.Reader, opts Options) (*Calendar, error) {
	rows, _, err := tabular.Read(r, rules)
	if err != nil {
		return nil, err
	}
	return Load(rows, opts)
}

// Load parses raw rows into a Calendar. Rows without an event name are skipped.
func Load(rows []tabular.RawRow, opts Options) (*Calendar, error) {
	var events []models.Event
	for _, row := range rows {
		name := row.Get(FieldName)
		if name == "" || name == "-" {
			continue
		}

		fail := func(field string, err error) error {
			return &models.DataQualityError{
				Source: opts.Source,
				Row:    row.Line,
				Field:  field,
				Value:  row.Get(field),
				Err:    err,
			}
		}

		start, err := tabular.ParseDate(row.Get(FieldStartDate), opts.DefaultYear)
		if err != nil {
			return nil, fail(FieldStartDate, err)
		}
		end := start
		if row.Has(FieldEndDate) {
			end, err = tabular.ParseDate(row.Get(FieldEndDate), opts.DefaultYear)
			if err != nil {
				return nil, fail(FieldEndDate, err)
			}
		}
		if start.After(end) {
			return nil, fail(FieldEndDate, fmt.Errorf("end date before start date %s", start.Format(models.DateLayout)))
		}

		category, ok := models.ParseCategory(row.Get(FieldCategory))
		if !ok {
			category = Classify(name)
			if row.Has(FieldCategory) {
				logger.Debug("Unrecognised category %q for %q, classified as %s", row.Get(FieldCategory), name, category)
			}
		}

		events = append(events, models.Event{
			Name:     name,
			Category: category,
			Start:    start,
			End:      end,
		})
	}

	cal, err := New(events)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d events", cal.Len())
	return cal, nil
}

// Calendar is an immutable set of events indexed by covered date.
type Calendar struct {
	events []models.Event
	byDate map[time.Time][]int
}

// New indexes events. It fails on the first invalid event.
func New(events []models.Event) (*Calendar, error) {
	c := &Calendar{
		events: make([]models.Event, len(events)),
		byDate: make(map[time.Time][]int),
	}
	copy(c.events, events)

	for i := range c.events {
		e := &c.events[i]
		e.Start, e.End = models.Day(e.Start), models.Day(e.End)
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("invalid event %q: %w", e.Name, err)
		}
		for _, d := range e.Days() {
			c.byDate[d] = append(c.byDate[d], i)
		}
	}
	return c, nil
}

// Empty returns a calendar with no events.
func Empty() *Calendar {
	c, _ := New(nil)
	return c
}

// EventsOn returns the events active on date, in load order. A nil calendar has no events.
func (c *Calendar) EventsOn(date time.Time) []models.Event {
	if c == nil {
		return nil
	}
	idx := c.byDate[models.Day(date)]
	if len(idx) == 0 {
		return nil
	}
	out := make([]models.Event, len(idx))
	for i, j := range idx {
		out[i] = c.events[j]
	}
	return out
}

// Covered reports whether any event is active on date.
func (c *Calendar) Covered(date time.Time) bool {
	if c == nil {
		return false
	}
	return len(c.byDate[models.Day(date)]) > 0
}

// CoveredBy reports whether an event of category is active on date.
func (c *Calendar) CoveredBy(date time.Time, category models.Category) bool {
	if c == nil {
		return false
	}
	for _, j := range c.byDate[models.Day(date)] {
		if c.events[j].Category == category {
			return true
		}
	}
	return false
}

// Events returns every event in load order.
func (c *Calendar) Events() []models.Event {
	if c == nil {
		return nil
	}
	out := make([]models.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Len returns the number of events.
func (c *Calendar) Len() int {
	if c == nil {
		return 0
	}
	return len(c.events)
}

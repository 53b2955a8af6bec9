// Package history loads the cleaned daily revenue export into an immutable,
// date-indexed store of revenue records.
//
// Cleaning follows a fixed policy: currency cells are stripped and parsed as
// decimals, blank or non-numeric cells coerce to zero, dates are normalised to
// UTC midnight, and duplicate dates keep their first occurrence. Unparsable
// dates and negative revenue abort the load with a DataQualityError.
package history

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rewired-gh/parkcast/internal/logger"
	"github.com/rewired-gh/parkcast/internal/models"
	"github.com/rewired-gh/parkcast/internal/tabular"
)

// DefaultUnallocatedGarage receives revenue the export reports in its total
// column but not in any garage column.
const DefaultUnallocatedGarage = "Other"

// Canonical field names produced by the header rules.
const (
	FieldDate         = "date"
	FieldYear         = "year"
	FieldMonth        = "month"
	FieldDay          = "day"
	FieldDayOfWeek    = "day_of_week"
	FieldTotalRevenue = "total_revenue"
	FieldTotalUnits   = "total_units"
	FieldNotes        = "notes"
	FieldTemperature  = "temperature"
	FieldEventFlag    = "event_flag"
	FieldAvgValue     = "avg_value"

	revenuePrefix = "revenue:"
	unitsPrefix   = "units:"
)

// Garage names one garage and the header fragments that identify its columns.
// An empty Match falls back to the lower-cased ID.
type Garage struct {
	ID    string   `mapstructure:"id"`
	Match []string `mapstructure:"match"`
}

// Options controls how an export is interpreted.
type Options struct {
	Garages           []Garage
	UnallocatedGarage string
	// Source names the input in error messages.
	Source string
}

func (o Options) unallocated() string {
	if o.UnallocatedGarage == "" {
		return DefaultUnallocatedGarage
	}
	return o.UnallocatedGarage
}

// RevenueField is the canonical field for a garage's revenue column.
func RevenueField(garage string) string { return revenuePrefix + garage }

// UnitsField is the canonical field for a garage's unit-count column.
func UnitsField(garage string) string { return unitsPrefix + garage }

// Rules returns the ordered header normalisation table for opts.
func Rules(opts Options) []tabular.Rule {
	rules := []tabular.Rule{
		{Canonical: FieldTotalRevenue, Match: tabular.Contains([]string{"total", "revenue"})},
		{Canonical: FieldTotalUnits, Match: tabular.Contains([]string{"total", "unit"})},
	}

	for _, g := range opts.Garages {
		fragments := g.Match
		if len(fragments) == 0 {
			fragments = []string{strings.ToLower(g.ID)}
		}
		for _, f := range fragments {
			f = strings.ToLower(f)
			rules = append(rules,
				tabular.Rule{Canonical: RevenueField(g.ID), Match: tabular.Contains([]string{f, "revenue"})},
				tabular.Rule{Canonical: UnitsField(g.ID), Match: tabular.Contains([]string{f, "unit"})},
			)
		}
	}

	rules = append(rules,
		tabular.Rule{Canonical: FieldDayOfWeek, Match: tabular.Equals("day_of_week", "day of week", "weekday", "dow", "day name")},
		tabular.Rule{Canonical: FieldDate, Match: tabular.Contains([]string{"date"}, "start", "end", "update")},
		tabular.Rule{Canonical: FieldYear, Match: tabular.Equals("year", "yr")},
		tabular.Rule{Canonical: FieldMonth, Match: tabular.Equals("month", "mon")},
		tabular.Rule{Canonical: FieldDay, Match: tabular.Equals("day", "dom", "day of month")},
		// single-column exports report one revenue figure
		tabular.Rule{Canonical: FieldTotalRevenue, Match: tabular.Equals("revenue", "amount", "sales")},
		tabular.Rule{Canonical: FieldAvgValue, Match: tabular.Contains([]string{"avg"})},
		tabular.Rule{Canonical: FieldAvgValue, Match: tabular.Contains([]string{"average"})},
		tabular.Rule{Canonical: FieldTemperature, Match: tabular.Contains([]string{"temp"})},
		tabular.Rule{Canonical: FieldEventFlag, Match: tabular.Contains([]string{"event"})},
		tabular.Rule{Canonical: FieldNotes, Match: tabular.Contains([]string{"note"})},
	)
	return rules
}

// ReadCSV reads an export and loads it.
func ReadCSV(r io.Reader, opts Options) (*Store, error) {
	rows, _, err := tabular.Read(r, Rules(opts))
	if err != nil {
		return nil, err
	}
	return Load(rows, opts)
}

// ReadFile reads the export at path.
func ReadFile(path string, opts Options) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open revenue export: %w", err)
	}
	defer f.Close()
	if opts.Source == "" {
		opts.Source = path
	}
	return ReadCSV(f, opts)
}

// Load cleans raw rows into a Store.
func Load(rows []tabular.RawRow, opts Options) (*Store, error) {
	records := make([]models.RevenueRecord, 0, len(rows))
	seen := make(map[time.Time]int, len(rows))

	for _, row := range rows {
		record, err := parseRow(row, opts)
		if err != nil {
			return nil, err
		}
		if first, dup := seen[record.Date]; dup {
			logger.Warn("%s row %d: duplicate date %s, keeping row %d",
				sourceName(opts), row.Line, record.Date.Format(models.DateLayout), first)
			continue
		}
		seen[record.Date] = row.Line
		records = append(records, record)
	}

	store, err := New(records)
	if err != nil {
		return nil, err
	}
	logger.Info("Loaded %d revenue records from %s", store.Len(), sourceName(opts))
	return store, nil
}

func parseRow(row tabular.RawRow, opts Options) (models.RevenueRecord, error) {
	fail := func(field string, err error) error {
		return &models.DataQualityError{
			Source: opts.Source,
			Row:    row.Line,
			Field:  field,
			Value:  row.Get(field),
			Err:    err,
		}
	}

	date, field, err := rowDate(row)
	if err != nil {
		return models.RevenueRecord{}, fail(field, err)
	}

	record := models.RevenueRecord{
		Date:          date,
		DayOfWeek:     date.Weekday(),
		GarageRevenue: make(map[string]float64),
		Notes:         row.Get(FieldNotes),
		EventFlag:     tabular.ParseFlag(row.Get(FieldEventFlag)),
	}

	if dow := row.Get(FieldDayOfWeek); dow != "" && !weekdayMatches(dow, date.Weekday()) {
		logger.Warn("%s row %d: day of week %q does not match %s, using %s",
			sourceName(opts), row.Line, dow, date.Format(models.DateLayout), date.Weekday())
	}

	amount := func(field string) (float64, error) {
		a := tabular.ParseAmount(row.Get(field))
		if a.Coerced {
			logger.Warn("%s row %d: non-numeric %s %q coerced to 0", sourceName(opts), row.Line, field, row.Get(field))
		}
		if a.Value < 0 {
			return 0, fail(field, errors.New("negative amount"))
		}
		return a.Value, nil
	}

	for _, g := range opts.Garages {
		if !row.Has(RevenueField(g.ID)) && !row.Has(UnitsField(g.ID)) {
			continue
		}
		v, err := amount(RevenueField(g.ID))
		if err != nil {
			return models.RevenueRecord{}, err
		}
		record.GarageRevenue[g.ID] = v

		if row.Has(UnitsField(g.ID)) {
			if record.GarageUnits == nil {
				record.GarageUnits = make(map[string]int)
			}
			record.GarageUnits[g.ID] = int(tabular.ParseCount(row.Get(UnitsField(g.ID))).Value)
		}
	}

	reported, err := amount(FieldTotalRevenue)
	if err != nil {
		return models.RevenueRecord{}, err
	}
	sum := record.GarageSum()
	switch {
	case reported-sum > models.ReconcileTolerance:
		record.GarageRevenue[opts.unallocated()] += round2(reported - sum)
	case sum-reported > models.ReconcileTolerance && row.Has(FieldTotalRevenue):
		logger.Warn("%s row %d: total %.2f below garage sum %.2f, using garage sum",
			sourceName(opts), row.Line, reported, sum)
	}
	record.TotalRevenue = round2(record.GarageSum())

	if row.Has(FieldTotalUnits) {
		record.TotalUnits = int(tabular.ParseCount(row.Get(FieldTotalUnits)).Value)
	} else {
		for _, u := range record.GarageUnits {
			record.TotalUnits += u
		}
	}
	if row.Has(FieldAvgValue) {
		record.AvgValue = tabular.ParseAmount(row.Get(FieldAvgValue)).Value
	}
	if row.Has(FieldTemperature) {
		record.Temperature = tabular.ParseAmount(row.Get(FieldTemperature)).Value
	}

	if err := record.Validate(); err != nil {
		return models.RevenueRecord{}, fail(FieldTotalRevenue, err)
	}
	return record, nil
}

func rowDate(row tabular.RawRow) (time.Time, string, error) {
	if row.Has(FieldDate) {
		d, err := tabular.ParseDate(row.Get(FieldDate), 0)
		return d, FieldDate, err
	}
	if row.Has(FieldYear) && row.Has(FieldMonth) && row.Has(FieldDay) {
		d, err := tabular.ParseSplitDate(row.Get(FieldYear), row.Get(FieldMonth), row.Get(FieldDay))
		return d, FieldDate, err
	}
	return time.Time{}, FieldDate, fmt.Errorf("%w: missing", tabular.ErrUnparsableDate)
}

func weekdayMatches(cell string, wd time.Weekday) bool {
	c := strings.ToLower(cell)
	name := strings.ToLower(wd.String())
	return strings.HasPrefix(name, c) || strings.HasPrefix(c, name[:3])
}

func sourceName(opts Options) string {
	if opts.Source == "" {
		return "input"
	}
	return opts.Source
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Store is an immutable, date-ascending set of revenue records.
type Store struct {
	records []models.RevenueRecord
	index   map[time.Time]int
	garages []string
}

// New builds a Store from records, validating each and rejecting duplicate dates.
func New(records []models.RevenueRecord) (*Store, error) {
	sorted := make([]models.RevenueRecord, len(records))
	for i, r := range records {
		sorted[i] = r.Clone()
		sorted[i].Date = models.Day(r.Date)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.Before(sorted[j].Date)
	})

	s := &Store{
		records: sorted,
		index:   make(map[time.Time]int, len(sorted)),
	}
	garages := make(map[string]bool)
	for i := range sorted {
		r := &sorted[i]
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("invalid record for %s: %w", r.Date.Format(models.DateLayout), err)
		}
		if _, dup := s.index[r.Date]; dup {
			return nil, fmt.Errorf("duplicate record for %s", r.Date.Format(models.DateLayout))
		}
		s.index[r.Date] = i
		for g := range r.GarageRevenue {
			garages[g] = true
		}
	}
	for g := range garages {
		s.garages = append(s.garages, g)
	}
	sort.Strings(s.garages)
	return s, nil
}

// Records returns copies of the records in date order.
func (s *Store) Records() []models.RevenueRecord {
	out := make([]models.RevenueRecord, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Get returns the record for date.
func (s *Store) Get(date time.Time) (models.RevenueRecord, bool) {
	i, ok := s.index[models.Day(date)]
	if !ok {
		return models.RevenueRecord{}, false
	}
	return s.records[i].Clone(), true
}

// TotalOn returns the observed total revenue for date.
func (s *Store) TotalOn(date time.Time) (float64, bool) {
	r, ok := s.Get(date)
	return r.TotalRevenue, ok
}

// Garages returns every garage id seen in the records, sorted.
func (s *Store) Garages() []string {
	out := make([]string, len(s.garages))
	copy(out, s.garages)
	return out
}

// Span returns the first and last record dates. Both are zero for an empty store.
func (s *Store) Span() (time.Time, time.Time) {
	if len(s.records) == 0 {
		return time.Time{}, time.Time{}
	}
	return s.records[0].Date, s.records[len(s.records)-1].Date
}

// Before returns a store holding only records strictly before date.
func (s *Store) Before(date time.Time) *Store {
	cut := sort.Search(len(s.records), func(i int) bool {
		return !s.records[i].Date.Before(models.Day(date))
	})
	sub, _ := New(s.records[:cut])
	return sub
}

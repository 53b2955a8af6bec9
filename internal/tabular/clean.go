package tabular

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnparsableDate is wrapped by every date parsing failure.
var ErrUnparsableDate = errors.New("unparsable date")

// blankCells coerce to zero without a warning.
var blankCells = map[string]bool{
	"":     true,
	"-":    true,
	"--":   true,
	"—":    true,
	"–":    true,
	"n/a":  true,
	"na":   true,
	"null": true,
	"none": true,
}

// Amount is a cleaned currency or count cell.
type Amount struct {
	Value float64
	// Coerced is set when a non-blank, non-numeric cell was forced to zero.
	Coerced bool
}

// ParseAmount strips currency symbols and separators and parses the result as
// a decimal rounded to cents. Blank, dash, and n/a cells are zero. Other
// non-numeric cells are zero with Coerced set. Parenthesised values are negative.
func ParseAmount(cell string) Amount {
	s := strings.ToLower(strings.TrimSpace(cell))
	if blankCells[s] {
		return Amount{}
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = strings.TrimSuffix(strings.TrimPrefix(s, "("), ")")
	}
	s = strings.NewReplacer("$", "", ",", "", " ", "", "\u00a0", "").Replace(s)
	if blankCells[s] {
		return Amount{}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{Coerced: true}
	}
	if negative {
		d = d.Neg()
	}
	return Amount{Value: d.Round(2).InexactFloat64()}
}

// ParseCount parses a unit-count cell, truncating any fractional part.
func ParseCount(cell string) Amount {
	a := ParseAmount(cell)
	a.Value = float64(int64(a.Value))
	return a
}

// ParseFlag reads spreadsheet truthy cells: yes/y/true/x/1.
func ParseFlag(cell string) bool {
	switch strings.ToLower(strings.TrimSpace(cell)) {
	case "yes", "y", "true", "x", "1":
		return true
	}
	return false
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"1/2/06",
	"1-2-2006",
	"1-2-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"Jan 2 2006",
	"Mon, Jan 2, 2006",
	"Mon, Jan 2 2006",
	"Monday, January 2, 2006",
	"2-Jan-2006",
	"2-Jan-06",
}

// yearless layouts need a default year supplied by the caller.
var yearlessLayouts = []string{
	"Mon, Jan 2",
	"Monday, January 2",
	"Jan 2",
	"January 2",
	"1/2",
}

// ParseDate normalises a spreadsheet date cell to UTC midnight. Yearless cells
// such as "Wed, Jan 1" are accepted only when defaultYear is positive.
func ParseDate(cell string, defaultYear int) (time.Time, error) {
	s := strings.Join(strings.Fields(cell), " ")
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrUnparsableDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	if defaultYear > 0 {
		for _, layout := range yearlessLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return time.Date(defaultYear, t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
			}
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparsableDate, cell)
}

var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March, "apr": time.April,
	"may": time.May, "jun": time.June, "jul": time.July, "aug": time.August,
	"sep": time.September, "oct": time.October, "nov": time.November, "dec": time.December,
}

// ParseSplitDate builds a date from separate year, month (name or number), and
// day cells, as found in the raw booking export.
func ParseSplitDate(year, month, day string) (time.Time, error) {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: year %q", ErrUnparsableDate, year)
	}
	if y < 100 {
		y += 2000
	}

	m := strings.ToLower(strings.TrimSpace(month))
	var mon time.Month
	if len(m) >= 3 {
		mon = monthNames[m[:3]]
	}
	if mon == 0 {
		n, err := strconv.Atoi(m)
		if err != nil || n < 1 || n > 12 {
			return time.Time{}, fmt.Errorf("%w: month %q", ErrUnparsableDate, month)
		}
		mon = time.Month(n)
	}

	d, err := strconv.Atoi(strings.TrimSpace(day))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: day %q", ErrUnparsableDate, day)
	}
	t := time.Date(y, mon, d, 0, 0, 0, 0, time.UTC)
	if t.Day() != d || t.Month() != mon {
		return time.Time{}, fmt.Errorf("%w: %d-%s-%d does not exist", ErrUnparsableDate, y, mon, d)
	}
	return t, nil
}

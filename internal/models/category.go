// Package models defines the core domain entities for parkcast.
// These models represent observed revenue days, calendar events, calibrated
// baseline and multiplier tables, and forecast output rows.
// All models include built-in validation to ensure data integrity throughout the application.
package models

import (
	"fmt"
	"strings"
)

// Category is the closed set of event categories.
type Category string

const (
	Lollapalooza       Category = "Lollapalooza"
	MajorPerformance   Category = "MajorPerformance"
	Sports             Category = "Sports"
	Festival           Category = "Festival"
	RegularPerformance Category = "RegularPerformance"
	Holiday            Category = "Holiday"
	Other              Category = "Other"
)

// categoryOrder lists categories from highest to lowest impact priority.
var categoryOrder = []Category{
	Lollapalooza,
	MajorPerformance,
	Sports,
	Festival,
	RegularPerformance,
	Holiday,
	Other,
}

// categoryAliases maps lower-cased names found in calendar exports to categories.
var categoryAliases = map[string]Category{
	"lollapalooza":        Lollapalooza,
	"lolla":               Lollapalooza,
	"mega_festival":       Lollapalooza,
	"majorperformance":    MajorPerformance,
	"major_performance":   MajorPerformance,
	"major performance":   MajorPerformance,
	"sports":              Sports,
	"sport":               Sports,
	"festival":            Festival,
	"festivals":           Festival,
	"regularperformance":  RegularPerformance,
	"regular_performance": RegularPerformance,
	"regular performance": RegularPerformance,
	"performance":         RegularPerformance,
	"holiday":             Holiday,
	"other":               Other,
}

// Categories returns every category in priority order, highest first.
func Categories() []Category {
	out := make([]Category, len(categoryOrder))
	copy(out, categoryOrder)
	return out
}

// ParseCategory resolves a category name or legacy alias, case-insensitively.
func ParseCategory(s string) (Category, bool) {
	c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]
	return c, ok
}

// Priority returns the resolution rank of c; higher wins when events overlap.
// Unknown categories rank below Other.
func (c Category) Priority() int {
	for i, cat := range categoryOrder {
		if cat == c {
			return len(categoryOrder) - i
		}
	}
	return 0
}

// Valid reports whether c is a member of the closed category set.
func (c Category) Valid() bool {
	return c.Priority() > 0
}

// Mode selects which multiplier column the forecast engine reads.
type Mode string

const (
	ModeValidated    Mode = "validated"
	ModeConservative Mode = "conservative"
)

// ParseMode accepts "validated" or "conservative" in any case.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeValidated:
		return ModeValidated, nil
	case ModeConservative:
		return ModeConservative, nil
	}
	return "", &ConfigurationError{Reason: fmt.Sprintf("unsupported mode %q", s)}
}

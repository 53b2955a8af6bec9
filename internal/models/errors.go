package models

import (
	"fmt"
	"time"
)

// DataQualityError reports a malformed input row. Row is the 1-based line in the
// source file (header is line 1), Field the canonical column name.
type DataQualityError struct {
	Source string
	Row    int
	Field  string
	Value  string
	Err    error
}

func (e *DataQualityError) Error() string {
	src := e.Source
	if src == "" {
		src = "input"
	}
	return fmt.Sprintf("%s row %d: field %s value %q: %v", src, e.Row, e.Field, e.Value, e.Err)
}

func (e *DataQualityError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a forecast requested with invalid parameters or
// without calibration tables.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

// MissingBaselineError reports a weekday absent from the calibrated baseline.
type MissingBaselineError struct {
	Weekday time.Weekday
}

func (e *MissingBaselineError) Error() string {
	return fmt.Sprintf("no baseline for %s", e.Weekday)
}

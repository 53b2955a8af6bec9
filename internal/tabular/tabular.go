// Package tabular reads spreadsheet CSV exports into header-keyed rows and
// cleans their cells. Header names are mapped to canonical field names through
// an ordered rule table; currency and date cells go through a fixed cleaning
// policy shared by every loader.
package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
)

// RawRow is one data row keyed by canonical field name. Line is the 1-based
// line in the source file; the header is line 1.
type RawRow struct {
	Line  int
	Cells map[string]string
}

// Get returns the trimmed cell for field, or "".
func (r RawRow) Get(field string) string {
	return strings.TrimSpace(r.Cells[field])
}

// Has reports whether the row carries a non-blank cell for field.
func (r RawRow) Has(field string) bool {
	return r.Get(field) != ""
}

// Rule maps a header to a canonical field when Match accepts the cleaned,
// lower-cased header text.
type Rule struct {
	Canonical string
	Match     func(header string) bool
}

// Contains builds a matcher requiring every needle and none of the excluded words.
func Contains(needles []string, exclude ...string) func(string) bool {
	return func(h string) bool {
		for _, x := range exclude {
			if strings.Contains(h, x) {
				return false
			}
		}
		for _, n := range needles {
			if !strings.Contains(h, n) {
				return false
			}
		}
		return true
	}
}

// Equals builds a matcher accepting any of the exact header names.
func Equals(names ...string) func(string) bool {
	return func(h string) bool {
		for _, n := range names {
			if h == n {
				return true
			}
		}
		return false
	}
}

// CleanHeader strips a byte-order mark, surrounding space, and case.
func CleanHeader(h string) string {
	h = strings.ReplaceAll(h, "\ufeff", "")
	return strings.ToLower(strings.Join(strings.Fields(h), " "))
}

// MapHeaders assigns each header the first rule that matches it. A canonical
// field is claimed by the first header that reaches it; later matches are ignored.
// Headers with no matching rule are dropped.
func MapHeaders(headers []string, rules []Rule) map[int]string {
	mapping := make(map[int]string)
	claimed := make(map[string]bool)
	for i, raw := range headers {
		h := CleanHeader(raw)
		if h == "" {
			continue
		}
		for _, rule := range rules {
			if claimed[rule.Canonical] || !rule.Match(h) {
				continue
			}
			mapping[i] = rule.Canonical
			claimed[rule.Canonical] = true
			break
		}
	}
	return mapping
}

// Read parses a CSV export and returns canonical rows plus the raw header line.
// The delimiter is sniffed from the header line (comma, semicolon, or tab).
func Read(r io.Reader, rules []Rule) ([]RawRow, []string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	headers, err := reader.Read()
	if err == io.EOF {
		return nil, nil, fmt.Errorf("csv has no header line")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	mapping := MapHeaders(headers, rules)

	var rows []RawRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read csv: %w", err)
		}
		line, _ := reader.FieldPos(0)
		if blankRecord(record) {
			continue
		}
		cells := make(map[string]string, len(mapping))
		for i, field := range mapping {
			if i < len(record) {
				cells[field] = record[i]
			}
		}
		rows = append(rows, RawRow{Line: line, Cells: cells})
	}
	return rows, headers, nil
}

func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	comma := bytes.Count(first, []byte(","))
	semi := bytes.Count(first, []byte(";"))
	tab := bytes.Count(first, []byte("\t"))
	switch {
	case semi > comma && semi >= tab:
		return ';'
	case tab > comma:
		return '\t'
	default:
		return ','
	}
}

func blankRecord(record []string) bool {
	for _, c := range record {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

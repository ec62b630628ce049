// Package normalize turns raw refinement strings from the UI into the typed
// operator/value pairs the search API expects.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/valpere/searchrefine/internal/query"
)

// ErrInvalidValue reports a raw value that would normalize to NaN.
var ErrInvalidValue = errors.New("invalid refinement value")

var defaultNumericRange = []string{
	"rcsb_entry_info.resolution_combined",
	"rcsb_entry_info.molecular_weight",
	"rcsb_entry_info.deposited_atom_count",
	"chem_comp.formula_weight",
	"rcsb_chem_comp_info.atom_count_heavy",
}

var defaultDateRange = []string{
	"rcsb_accession_info.initial_release_date",
	"rcsb_chem_comp_info.initial_release_date",
}

// dateWindowYears is how many years after the selected one a date bucket spans.
const dateWindowYears = 4

// Rules decides how raw values of each attribute are interpreted.
type Rules struct {
	NumericRange map[string]struct{}
	DateRange    map[string]struct{}
}

// Default returns the built-in attribute sets.
func Default() Rules {
	return NewRules(defaultNumericRange, defaultDateRange)
}

func NewRules(numericRange, dateRange []string) Rules {
	r := Rules{
		NumericRange: make(map[string]struct{}, len(numericRange)),
		DateRange:    make(map[string]struct{}, len(dateRange)),
	}
	for _, a := range numericRange {
		r.NumericRange[a] = struct{}{}
	}
	for _, a := range dateRange {
		r.DateRange[a] = struct{}{}
	}
	return r
}

func (r Rules) isNumericRange(attribute string) bool {
	_, ok := r.NumericRange[attribute]
	return ok
}

func (r Rules) isDateRange(attribute string) bool {
	_, ok := r.DateRange[attribute]
	return ok
}

// Normalize maps a raw value of attribute to an operator and typed value.
//
// Numeric-range attributes accept "*-N" (less than N), "N-*" (at least N) and
// "N-M" (half-open range). Date-range attributes take a year and expand it to
// an inclusive five-year window. Everything else is an exact match on the raw
// string. Unparseable numbers come out as NaN; run Validate first to reject
// them instead.
func (r Rules) Normalize(attribute, raw string) (query.Operator, query.Value) {
	switch {
	case r.isNumericRange(attribute):
		return normalizeNumeric(raw)
	case r.isDateRange(attribute):
		return query.OpRange, dateWindow(raw)
	default:
		return query.OpExactMatch, query.String(raw)
	}
}

// Validate reports whether Normalize would produce a NaN for raw. It checks
// exactly the numbers the chosen numeric branch parses, so inputs such as
// "*5-3" (less than 3) pass.
func (r Rules) Validate(attribute, raw string) error {
	switch {
	case r.isNumericRange(attribute):
		_, v := normalizeNumeric(raw)
		if hasNaN(v) {
			return fmt.Errorf("%w: %s=%q is not a number range", ErrInvalidValue, attribute, raw)
		}
	case r.isDateRange(attribute):
		if _, ok := parseInt(raw); !ok {
			return fmt.Errorf("%w: %s=%q is not a year", ErrInvalidValue, attribute, raw)
		}
	}
	return nil
}

func hasNaN(v query.Value) bool {
	switch x := v.(type) {
	case query.Number:
		return math.IsNaN(float64(x))
	case *query.Range:
		return hasNaN(x.From) || hasNaN(x.To)
	}
	return false
}

func normalizeNumeric(raw string) (query.Operator, query.Value) {
	parts := strings.Split(raw, "-")
	first := parts[0]
	second := ""
	if len(parts) > 1 {
		second = parts[1]
	}

	switch {
	case strings.HasPrefix(raw, "*"):
		return query.OpLess, query.Number(parseFloat(second))
	case strings.Contains(raw, "-*"):
		return query.OpGreaterOrEqual, query.Number(parseFloat(first))
	default:
		return query.OpRange, &query.Range{
			From:         query.Number(parseFloat(first)),
			To:           query.Number(parseFloat(second)),
			IncludeLower: true,
			IncludeUpper: false,
		}
	}
}

func dateWindow(year string) *query.Range {
	end := "NaN"
	if y, ok := parseInt(year); ok {
		end = strconv.Itoa(y + dateWindowYears)
	}
	return &query.Range{
		From:         query.String(year + "-01-01"),
		To:           query.String(end + "-12-31"),
		IncludeLower: true,
		IncludeUpper: true,
	}
}

// parseFloat reads the longest leading decimal number of s, the way browser
// number parsing does, and yields NaN when there is none.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	seenDigit, seenDot, seenExp := false, false, false
scan:
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			seenDigit = true
			end = i + 1
		case c == '.' && !seenDot && !seenExp:
			seenDot = true
		case (c == 'e' || c == 'E') && seenDigit && !seenExp:
			seenExp = true
		case (c == '+' || c == '-') && (i == 0 || s[i-1] == 'e' || s[i-1] == 'E'):
		default:
			break scan
		}
	}
	if !seenDigit {
		return math.NaN()
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func parseInt(s string) (int, bool) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

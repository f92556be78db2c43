package utils

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// "$123.45": a dollar sign, whole dollars, exactly two cents digits.
// At most 18 dollar digits, the range of the decimal(20,2) amount column.
var loadAmountPattern = regexp.MustCompile(`^\$\d{1,18}\.\d{2}$`)

var ErrMalformedAmount = errors.New("malformed load amount")

// ParseLoadAmount parses "$<dollars>.<cents>" into an exact decimal.
// Negative values, missing cents and extra precision are rejected.
func ParseLoadAmount(value string) (decimal.Decimal, error) {
	s := strings.TrimSpace(value)
	if !loadAmountPattern.MatchString(s) {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedAmount, value)
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "$"))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedAmount, err)
	}
	return d, nil
}

// FormatLoadAmount renders an amount back to "$<dollars>.<cents>".
func FormatLoadAmount(d decimal.Decimal) string {
	return "$" + d.StringFixed(2)
}

var loadTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// LoadTimePrecision is the resolution load times are kept at; the MySQL column is datetime(3).
const LoadTimePrecision = time.Millisecond

// NormalizeLoadTime converts t to UTC and truncates it to LoadTimePrecision,
// so every ledger places a load on the same day.
func NormalizeLoadTime(t time.Time) time.Time {
	return t.UTC().Truncate(LoadTimePrecision)
}

// ParseLoadTime accepts RFC3339 timestamps, and offset-less ones which are read as UTC.
// The result is always in UTC, the reference calendar for day and week windows,
// truncated to LoadTimePrecision.
func ParseLoadTime(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, errors.New("empty load time")
	}
	for _, layout := range loadTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NormalizeLoadTime(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized load time %q", value)
}

// Package characteristics turns raw feature attributes into per-unit subject
// values and percentages.
package characteristics

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	numberPlaces     = 4
	percentagePlaces = 8
)

// ZeroSentinel is the stored percentage when there is no usable denominator.
const ZeroSentinel = "0000.00000000"

var zeroPercentage = decimal.RequireFromString(ZeroSentinel)

// AttributeParseError reports a subject value that is not a number.
type AttributeParseError struct {
	Field string
	Value string
	Err   error
}

func (e *AttributeParseError) Error() string {
	return fmt.Sprintf("characteristics: field %s: cannot parse %q: %v", e.Field, e.Value, e.Err)
}

func (e *AttributeParseError) Unwrap() error { return e.Err }

// ParseTruncated parses a raw attribute and truncates it, never rounding, to
// four fractional digits.
func ParseTruncated(field, raw string) (decimal.Decimal, error) {
	v, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, &AttributeParseError{Field: field, Value: raw, Err: err}
	}
	return v.Truncate(numberPlaces), nil
}

// Percentage returns number/denominator truncated to eight fractional digits,
// or the zero sentinel when denominator is not positive.
func Percentage(number, denominator decimal.Decimal) decimal.Decimal {
	if !denominator.IsPositive() {
		return zeroPercentage
	}
	q, _ := number.QuoRem(denominator, percentagePlaces)
	return q
}

// FormatPercentage renders a percentage with its eight stored digits.
func FormatPercentage(p decimal.Decimal) string {
	if p.IsZero() {
		return ZeroSentinel
	}
	return p.StringFixed(percentagePlaces)
}

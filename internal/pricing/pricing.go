// Package pricing normalizes heterogeneous price text into numeric amounts and
// converts between billing durations through a fixed monthly-equivalence table.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"cloudquote/backend/internal/domain"
)

// ContactSales is the display sentinel for prices that normalize to zero.
// A genuinely free plan and a missing price are indistinguishable on purpose.
const ContactSales = "Contact Sales"

var ErrInvalidDuration = errors.New("invalid billing duration")

// monthlyFactor maps each duration to its monthly-equivalence multiplier.
// The table is total: every Duration constant has exactly one entry, and
// conversion between two durations always goes through the monthly unit.
var monthlyFactor = map[domain.Duration]float64{
	domain.DurationHourly:       730,
	domain.DurationMonthly:      1,
	domain.DurationQuarterly:    1.0 / 3,
	domain.DurationSemiAnnually: 1.0 / 6,
	domain.DurationYearly:       1.0 / 12,
	domain.DurationBiAnnually:   1.0 / 24,
	domain.DurationTriAnnually:  1.0 / 36,
}

// ParseDuration validates raw against the closed duration set. Unknown values
// fail; they must never fall back to a multiplier of 1.
func ParseDuration(raw string) (domain.Duration, error) {
	d := domain.Duration(strings.ToLower(strings.TrimSpace(raw)))
	if _, ok := monthlyFactor[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidDuration, raw)
	}
	return d, nil
}

// MonthlyEquivalent converts an amount expressed in d to its monthly rate.
func MonthlyEquivalent(amount float64, d domain.Duration) (float64, error) {
	factor, ok := monthlyFactor[d]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, d)
	}
	return amount * factor, nil
}

// Convert re-expresses an amount from one billing duration in another.
func Convert(amount float64, from domain.Duration, to domain.Duration) (float64, error) {
	monthly, err := MonthlyEquivalent(amount, from)
	if err != nil {
		return 0, err
	}
	factor, ok := monthlyFactor[to]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, to)
	}
	return monthly / factor, nil
}

// sentinel inputs that always normalize to zero. Compared lower-cased.
var zeroSentinels = map[string]struct{}{
	"":              {},
	"n/a":           {},
	"na":            {},
	"contact sales": {},
	"contact us":    {},
	"null":          {},
}

// Parse turns raw price text into a non-negative amount. Currency symbols,
// thousands separators and whitespace are stripped before the numeric parse.
// Sentinels, unparseable text and negative values all yield 0; Parse never
// fails.
func Parse(raw string) float64 {
	trimmed := strings.TrimSpace(raw)
	if _, ok := zeroSentinels[strings.ToLower(trimmed)]; ok {
		return 0
	}

	var b strings.Builder
	for _, r := range trimmed {
		switch r {
		case '₹', '$', '€', '£', ',', ' ', '\u00a0', '\t':
			continue
		default:
			b.WriteRune(r)
		}
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

// Format renders an amount as a currency string with two fraction digits,
// grouping the integer part in thousands. Parse(Format(x)) == x at two-decimal
// rounding for any non-negative finite x.
func Format(amount float64) string {
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	cents := int64(math.Round(amount * 100))
	return "₹" + groupThousands(cents/100) + fmt.Sprintf(".%02d", cents%100)
}

// FormatOrContact renders raw for display, substituting the contact-sales
// sentinel whenever the price normalizes to zero.
func FormatOrContact(raw string) string {
	amount := Parse(raw)
	if amount == 0 {
		return ContactSales
	}
	return Format(amount)
}

func groupThousands(whole int64) string {
	digits := strconv.FormatInt(whole, 10)
	n := len(digits)
	if n <= 3 {
		return digits
	}
	var b strings.Builder
	head := n % 3
	if head > 0 {
		b.WriteString(digits[:head])
	}
	for i := head; i < n; i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}

// Round2 rounds a monetary amount to two decimals. Totals are computed in
// float and rounded once at the edge, matching how quotation totals are stored.
func Round2(amount float64) float64 {
	return math.Round(amount*100) / 100
}

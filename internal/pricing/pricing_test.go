package pricing

import (
	"errors"
	"math"
	"testing"

	"cloudquote/backend/internal/domain"
)

func TestParseNormalizesHeterogeneousInputs(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"1200", 1200},
		{"1200.50", 1200.50},
		{"₹1,200", 1200},
		{"₹2,000", 2000},
		{"₹20,000", 20000},
		{"$ 99.99", 99.99},
		{"  730  ", 730},
		{"", 0},
		{"N/A", 0},
		{"n/a", 0},
		{"Contact Sales", 0},
		{"contact sales", 0},
		{"null", 0},
		{"free trial", 0},
		{"-500", 0},
		{"12,34,567", 1234567},
		{"₹1,200/month", 0},
	}
	for _, tc := range cases {
		got := Parse(tc.raw)
		if got != tc.want {
			t.Fatalf("Parse(%q) = %v, want %v", tc.raw, got, tc.want)
		}
		if got < 0 {
			t.Fatalf("Parse(%q) returned negative amount %v", tc.raw, got)
		}
	}
}

func TestFormatRoundTripsThroughParse(t *testing.T) {
	for _, amount := range []float64{0, 1, 42.5, 999, 1000, 1234.56, 20000, 1234567.89} {
		formatted := Format(amount)
		if got := Parse(formatted); got != Round2(amount) {
			t.Fatalf("Parse(Format(%v)) = %v via %q, want %v", amount, got, formatted, Round2(amount))
		}
	}
}

func TestFormatGrouping(t *testing.T) {
	if got := Format(20000); got != "₹20,000.00" {
		t.Fatalf("expected ₹20,000.00, got %q", got)
	}
	if got := Format(999.9); got != "₹999.90" {
		t.Fatalf("expected ₹999.90, got %q", got)
	}
}

func TestFormatOrContact(t *testing.T) {
	if got := FormatOrContact("N/A"); got != ContactSales {
		t.Fatalf("expected contact sentinel for N/A, got %q", got)
	}
	if got := FormatOrContact("0"); got != ContactSales {
		t.Fatalf("expected contact sentinel for zero price, got %q", got)
	}
	if got := FormatOrContact("₹1,200"); got != "₹1,200.00" {
		t.Fatalf("expected formatted price, got %q", got)
	}
}

func TestConvertIdentityForAllDurations(t *testing.T) {
	durations := []domain.Duration{
		domain.DurationHourly,
		domain.DurationMonthly,
		domain.DurationQuarterly,
		domain.DurationSemiAnnually,
		domain.DurationYearly,
		domain.DurationBiAnnually,
		domain.DurationTriAnnually,
	}
	for _, d := range durations {
		got, err := Convert(1234.5, d, d)
		if err != nil {
			t.Fatalf("Convert identity for %s: %v", d, err)
		}
		if math.Abs(got-1234.5) > 1e-9 {
			t.Fatalf("Convert(%s -> %s) = %v, want 1234.5", d, d, got)
		}
	}
}

func TestConvertThroughMonthlyUnit(t *testing.T) {
	got, err := Convert(2, domain.DurationHourly, domain.DurationMonthly)
	if err != nil {
		t.Fatalf("hourly->monthly: %v", err)
	}
	if got != 1460 {
		t.Fatalf("hourly->monthly = %v, want 1460", got)
	}

	got, err = Convert(1200, domain.DurationYearly, domain.DurationMonthly)
	if err != nil {
		t.Fatalf("yearly->monthly: %v", err)
	}
	if got != 100 {
		t.Fatalf("yearly->monthly = %v, want 100", got)
	}

	got, err = Convert(100, domain.DurationMonthly, domain.DurationYearly)
	if err != nil {
		t.Fatalf("monthly->yearly: %v", err)
	}
	if math.Abs(got-1200) > 1e-9 {
		t.Fatalf("monthly->yearly = %v, want 1200", got)
	}
}

func TestUnknownDurationFailsFast(t *testing.T) {
	if _, err := MonthlyEquivalent(100, domain.Duration("weekly")); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := Convert(100, domain.DurationMonthly, domain.Duration("fortnightly")); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
	if _, err := ParseDuration("weekly"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestParseDurationAcceptsCanonicalValues(t *testing.T) {
	d, err := ParseDuration("  Semi-Annually ")
	if err != nil {
		t.Fatalf("ParseDuration: %v", err)
	}
	if d != domain.DurationSemiAnnually {
		t.Fatalf("expected semi-annually, got %s", d)
	}
}

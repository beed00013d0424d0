package money

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundHalfUp(t *testing.T) {
	cases := map[string]string{
		"1.005":     "1.01",
		"1.004":     "1",
		"6.0493150": "6.05",
		"1500.9075": "1500.91",
		"2.5":       "2.5",
	}
	for in, want := range cases {
		got := Round(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("Round(%s)=%s, want %s", in, got, want)
		}
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(MustParse("1000"), decimal.NewFromInt(15)); !got.Equal(MustParse("150")) {
		t.Fatalf("15%% of 1000 = %s", got)
	}
	if got := Percent(MustParse("1000"), MustParse("0.5")); !got.Equal(MustParse("5")) {
		t.Fatalf("0.5%% of 1000 = %s", got)
	}
	if got := Percent(MustParse("5000"), decimal.NewFromInt(3)); !got.Equal(MustParse("150")) {
		t.Fatalf("3%% of 5000 = %s", got)
	}
}

func TestParse(t *testing.T) {
	if _, err := Parse("10.123"); !errors.Is(err, ErrPrecision) {
		t.Fatalf("expected ErrPrecision, got %v", err)
	}
	if _, err := Parse("abc"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	if _, err := Parse(" "); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	d, err := Parse(" 1500.50 ")
	if err != nil || !d.Equal(decimal.RequireFromString("1500.5")) {
		t.Fatalf("Parse = %s, %v", d, err)
	}
}

func TestInCents(t *testing.T) {
	for in, want := range map[string]bool{"1000": true, "0.01": true, "1500.50": true, "1000.005": false, "0.001": false} {
		if got := InCents(decimal.RequireFromString(in)); got != want {
			t.Fatalf("InCents(%s) = %v", in, got)
		}
	}
}

func TestSplitConservesPennies(t *testing.T) {
	for _, tc := range []struct {
		total string
		n     int
		first string
		last  string
	}{
		{"9000", 6, "1500", "1500"},
		{"1000", 3, "333.33", "333.34"},
		{"1000", 7, "142.86", "142.84"},
		{"2000.01", 2, "1000.01", "1000"},
		{"1234.56", 48, "25.72", "25.72"},
	} {
		total := MustParse(tc.total)
		parts := Split(total, tc.n)
		if len(parts) != tc.n {
			t.Fatalf("Split(%s,%d) len=%d", tc.total, tc.n, len(parts))
		}
		if !Sum(parts...).Equal(total) {
			t.Fatalf("Split(%s,%d) sums to %s", tc.total, tc.n, Sum(parts...))
		}
		if !parts[0].Equal(MustParse(tc.first)) || !parts[tc.n-1].Equal(MustParse(tc.last)) {
			t.Fatalf("Split(%s,%d) first=%s last=%s", tc.total, tc.n, parts[0], parts[tc.n-1])
		}
	}
	if Split(MustParse("10"), 0) != nil {
		t.Fatal("expected nil for n=0")
	}
}

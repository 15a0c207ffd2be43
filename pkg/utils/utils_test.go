package utils

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestFormatCurrency(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "$0.00"},
		{999.5, "$999.50"},
		{1000, "$1,000.00"},
		{1234567.891, "$1,234,567.89"},
		{-25000, "-$25,000.00"},
	}
	for _, tt := range tests {
		if got := FormatCurrency(tt.in); got != tt.want {
			t.Errorf("FormatCurrency(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatPercent(12.345); got != "+12.35%" {
		t.Errorf("FormatPercent = %q", got)
	}
	if got := FormatPnL(95); got != "+$95.00" {
		t.Errorf("FormatPnL = %q", got)
	}
	if got := FormatQuantity(-1234567); got != "-1,234,567" {
		t.Errorf("FormatQuantity = %q", got)
	}
	if got := FormatCompact(2500000); got != "$2.50M" {
		t.Errorf("FormatCompact = %q", got)
	}
}

// Property: grouping only inserts commas and never more than one per three
// digits.
func TestProperty_GroupThousands(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	properties := gopter.NewProperties(parameters)

	properties.Property("digits survive grouping", prop.ForAll(
		func(n int64) bool {
			digits := strings.TrimPrefix(FormatQuantity(n), "-")
			plain := strings.ReplaceAll(digits, ",", "")
			commas := len(digits) - len(plain)
			return commas == (len(plain)-1)/3
		},
		gen.Int64Range(-1e15, 1e15),
	))

	properties.TestingRun(t)
}

func TestSessionAt(t *testing.T) {
	day := func(h, m int) time.Time {
		// 2024-03-13 is a Wednesday.
		return time.Date(2024, 3, 13, h, m, 0, 0, NewYork)
	}
	tests := []struct {
		at   time.Time
		want MarketSession
	}{
		{day(3, 59), SessionClosed},
		{day(4, 0), SessionPreMarket},
		{day(9, 29), SessionPreMarket},
		{day(9, 30), SessionOpen},
		{day(15, 59), SessionOpen},
		{day(16, 0), SessionAfterHours},
		{day(20, 0), SessionClosed},
		{time.Date(2024, 3, 16, 12, 0, 0, 0, NewYork), SessionClosed},
	}
	for _, tt := range tests {
		if got := SessionAt(tt.at); got != tt.want {
			t.Errorf("SessionAt(%s) = %s, want %s", tt.at.Format(time.Kitchen), got, tt.want)
		}
	}
}

func TestNextMarketOpen_SkipsWeekend(t *testing.T) {
	friday := time.Date(2024, 3, 15, 17, 0, 0, 0, NewYork)
	next := NextMarketOpen(friday)
	if next.Weekday() != time.Monday || next.Hour() != 9 || next.Minute() != 30 {
		t.Errorf("NextMarketOpen = %s", next)
	}
}

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, BackoffFactor: 2}
}

func TestRetry_StopsAfterMaxAttempts(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Retry(context.Background(), fastRetry(3), func() error {
		calls++
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryWithResult_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithResult(context.Background(), fastRetry(3), func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	transient := errors.New("transient")
	fatal := errors.New("fatal")
	cfg := fastRetry(5)
	cfg.RetryableErrors = []error{transient}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) || calls != 1 {
		t.Errorf("err = %v after %d calls, want fatal after 1", err, calls)
	}
}

func TestRetry_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, fastRetry(3), func() error {
		calls++
		return nil
	})
	if !errors.Is(err, context.Canceled) || calls != 0 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

package backtest

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
)

func newProperties() *gopter.Properties {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())
	return gopter.NewProperties(parameters)
}

func completeRaw(ret, dd, sharpe, finalCapital float64) RawResult {
	trades := 20.0
	return RawResult{
		TotalTrades:  &trades,
		FinalCapital: finalCapital,
		TotalReturn:  ret,
		MaxDrawdown:  dd,
		SharpeRatio:  sharpe,
		EquityCurve:  []models.EquityPoint{{Date: "2024-01-01", Equity: 10000}},
		TradeLog:     []models.BacktestTrade{},
	}
}

// Property: returns beyond +/-100% collapse to +50 or -30 by sign; every
// other return passes through unchanged.
func TestProperty_TotalReturnClamp(t *testing.T) {
	properties := newProperties()

	properties.Property("large returns are capped by sign", prop.ForAll(
		func(v float64) bool {
			got := ClampTotalReturn(v)
			if math.Abs(v) > 100 {
				if v > 0 {
					return got == 50
				}
				return got == -30
			}
			return got == v
		},
		gen.Float64Range(-10000, 10000),
	))

	properties.Property("returns inside the band are untouched", prop.ForAll(
		func(v float64) bool {
			return ClampTotalReturn(v) == v
		},
		gen.Float64Range(-100, 100),
	))

	properties.TestingRun(t)
}

// Property: drawdowns below -50 become exactly -35, positive drawdowns of
// any size are negated, the rest are unchanged.
func TestProperty_MaxDrawdownClamp(t *testing.T) {
	properties := newProperties()

	properties.Property("drawdown clamp", prop.ForAll(
		func(v float64) bool {
			got := ClampMaxDrawdown(v)
			switch {
			case v < -50:
				return got == -35
			case v > 0:
				return got == -math.Abs(v)
			default:
				return got == v
			}
		},
		gen.Float64Range(-500, 500),
	))

	properties.Property("positive drawdowns past the floor keep their size", prop.ForAll(
		func(v float64) bool {
			return ClampMaxDrawdown(v) == -v
		},
		gen.Float64Range(50.0001, 500),
	))

	properties.TestingRun(t)
}

// Property: Sharpe ratios above 3.5 become exactly 2.5, the rest are
// unchanged.
func TestProperty_SharpeClamp(t *testing.T) {
	properties := newProperties()

	properties.Property("sharpe clamp", prop.ForAll(
		func(v float64) bool {
			got := ClampSharpe(v)
			if v > 3.5 {
				return got == 2.5
			}
			return got == v
		},
		gen.Float64Range(-10, 20),
	))

	properties.TestingRun(t)
}

// Property: the persisted final capital is always derived from the clamped
// return, whatever the raw final capital says.
func TestProperty_FinalCapitalDerivedFromClampedReturn(t *testing.T) {
	properties := newProperties()

	properties.Property("final capital ignores raw value", prop.ForAll(
		func(ret, rawFinal, initial float64) bool {
			bt, err := Normalize(completeRaw(ret, -10, 1, rawFinal), Params{InitialCapital: initial})
			if err != nil {
				return false
			}
			want := initial * (1 + ClampTotalReturn(ret)/100)
			return bt.FinalCapital == want
		},
		gen.Float64Range(-1000, 1000),
		gen.Float64Range(0, 1e9),
		gen.Float64Range(1, 1e7),
	))

	properties.TestingRun(t)
}

// Property: normalizing an already normalized record changes nothing.
func TestProperty_NormalizeIdempotent(t *testing.T) {
	properties := newProperties()

	properties.Property("renormalize is a no-op on normalized output", prop.ForAll(
		func(ret, dd, sharpe, initial float64) bool {
			bt, err := Normalize(completeRaw(ret, dd, sharpe, 0), Params{InitialCapital: initial})
			if err != nil {
				return false
			}
			again := Renormalize(bt)
			return again.TotalReturn == bt.TotalReturn &&
				again.MaxDrawdown == bt.MaxDrawdown &&
				again.SharpeRatio == bt.SharpeRatio &&
				again.FinalCapital == bt.FinalCapital
		},
		gen.Float64Range(-1000, 1000),
		gen.Float64Range(-200, 50),
		gen.Float64Range(-5, 20),
		gen.Float64Range(1, 1e7),
	))

	properties.Property("clamps are idempotent", prop.ForAll(
		func(v float64) bool {
			return ClampTotalReturn(ClampTotalReturn(v)) == ClampTotalReturn(v) &&
				ClampSharpe(ClampSharpe(v)) == ClampSharpe(v)
		},
		gen.Float64Range(-1000, 1000),
	))

	properties.Property("drawdown clamp is idempotent up to the floor", prop.ForAll(
		func(v float64) bool {
			return ClampMaxDrawdown(ClampMaxDrawdown(v)) == ClampMaxDrawdown(v)
		},
		gen.Float64Range(-1000, 50),
	))

	properties.TestingRun(t)
}

// Property: run ids always have the BT-YYYYMMDD-XXXXXX shape.
func TestProperty_RunIDShape(t *testing.T) {
	properties := newProperties()

	properties.Property("run id shape", prop.ForAll(
		func(seed []byte, unix int64) bool {
			now := time.Unix(unix, 0)
			// Pad with bytes below the rejection cutoff so the reader never runs dry.
			src := bytes.NewReader(append(seed, bytes.Repeat([]byte{7}, 16)...))
			id, err := NewRunID(now, src)
			if err != nil {
				return false
			}
			return ValidRunID(id) && id[3:11] == now.UTC().Format("20060102")
		},
		gen.SliceOf(gen.UInt8()),
		gen.Int64Range(0, 4102444800),
	))

	properties.TestingRun(t)
}

func TestNormalize_Example(t *testing.T) {
	raw := completeRaw(137, -62, 4.1, 999999)
	bt, err := Normalize(raw, Params{
		RunID:          "BT-20240102-ABC123",
		StrategyID:     "s1",
		StrategyName:   "Momentum",
		Symbols:        []string{"SPY"},
		InitialCapital: 10000,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if bt.TotalReturn != 50 {
		t.Errorf("TotalReturn = %v, want 50", bt.TotalReturn)
	}
	if bt.MaxDrawdown != -35 {
		t.Errorf("MaxDrawdown = %v, want -35", bt.MaxDrawdown)
	}
	if bt.SharpeRatio != 2.5 {
		t.Errorf("SharpeRatio = %v, want 2.5", bt.SharpeRatio)
	}
	if bt.FinalCapital != 15000 {
		t.Errorf("FinalCapital = %v, want 15000", bt.FinalCapital)
	}
	if bt.Status != models.BacktestCompleted {
		t.Errorf("Status = %q, want completed", bt.Status)
	}
	if bt.AvgWin != 0 || bt.AvgLoss != 0 {
		t.Errorf("AvgWin/AvgLoss = %v/%v, want 0/0", bt.AvgWin, bt.AvgLoss)
	}
}

func TestClampMaxDrawdown_Examples(t *testing.T) {
	tests := []struct {
		raw, want float64
	}{
		{-62, -35},
		{-50, -50},
		{-12, -12},
		{0, 0},
		{20, -20},
		{60, -60},
		{80, -80},
	}
	for _, tt := range tests {
		if got := ClampMaxDrawdown(tt.raw); got != tt.want {
			t.Errorf("ClampMaxDrawdown(%v) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	bt, err := Normalize(completeRaw(10, 60, 1, 0), Params{InitialCapital: 10000})
	if err != nil {
		t.Fatal(err)
	}
	if bt.MaxDrawdown != -60 {
		t.Errorf("persisted MaxDrawdown = %v, want -60", bt.MaxDrawdown)
	}
	if again := Renormalize(bt); again.MaxDrawdown != -35 {
		t.Errorf("renormalized MaxDrawdown = %v, want -35", again.MaxDrawdown)
	}
}

func TestValidate_Missing(t *testing.T) {
	zero := 0.0
	tests := []struct {
		name    string
		mutate  func(*RawResult)
		missing []string
	}{
		{"complete", func(r *RawResult) {}, nil},
		{"no trades", func(r *RawResult) { r.TotalTrades = nil }, []string{"total_trades"}},
		{"zero trades", func(r *RawResult) { r.TotalTrades = &zero }, []string{"total_trades"}},
		{"no curve", func(r *RawResult) { r.EquityCurve = nil }, []string{"equity_curve"}},
		{"no log", func(r *RawResult) { r.TradeLog = nil }, []string{"trade_log"}},
		{"all gone", func(r *RawResult) {
			r.TotalTrades, r.EquityCurve, r.TradeLog = nil, nil, nil
		}, []string{"total_trades", "equity_curve", "trade_log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := completeRaw(10, -5, 1, 0)
			tt.mutate(&raw)
			err := Validate(raw)
			if tt.missing == nil {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			var incomplete *apperrors.IncompleteAIResponseError
			if !apperrors.As(err, &incomplete) {
				t.Fatalf("err = %v, want IncompleteAIResponseError", err)
			}
			if len(incomplete.Missing) != len(tt.missing) {
				t.Fatalf("Missing = %v, want %v", incomplete.Missing, tt.missing)
			}
			for i := range tt.missing {
				if incomplete.Missing[i] != tt.missing[i] {
					t.Errorf("Missing[%d] = %s, want %s", i, incomplete.Missing[i], tt.missing[i])
				}
			}
		})
	}
}

// Package backtest turns raw LLM performance output into bounded Backtest
// records.
package backtest

import (
	"math"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
)

// Clamp bounds.
const (
	ReturnLimit         = 100.0
	ReturnCapPositive   = 50.0
	ReturnCapNegative   = -30.0
	DrawdownFloor       = -50.0
	DrawdownReplacement = -35.0
	SharpeCeiling       = 3.5
	SharpeReplacement   = 2.5
)

// RawResult is the structured LLM response for a backtest. The three
// required values are pointers or nil-able slices so "missing" can be told
// apart from a present zero.
type RawResult struct {
	TotalTrades   *float64               `json:"total_trades"`
	WinningTrades float64                `json:"winning_trades"`
	LosingTrades  float64                `json:"losing_trades"`
	FinalCapital  float64                `json:"final_capital"`
	TotalReturn   float64                `json:"total_return"`
	WinRate       float64                `json:"win_rate"`
	AvgWin        *float64               `json:"avg_win"`
	AvgLoss       *float64               `json:"avg_loss"`
	MaxDrawdown   float64                `json:"max_drawdown"`
	SharpeRatio   float64                `json:"sharpe_ratio"`
	ProfitFactor  float64                `json:"profit_factor"`
	EquityCurve   []models.EquityPoint   `json:"equity_curve"`
	TradeLog      []models.BacktestTrade `json:"trade_log"`
}

// Params carries the request-side fields of a backtest record.
type Params struct {
	RunID          string
	StrategyID     string
	StrategyName   string
	StartDate      string
	EndDate        string
	Symbols        []string
	InitialCapital float64
}

// Validate rejects a response that lacks total_trades, equity_curve or
// trade_log. A zero trade count counts as missing.
func Validate(raw RawResult) error {
	var missing []string
	if raw.TotalTrades == nil || *raw.TotalTrades == 0 || math.IsNaN(*raw.TotalTrades) {
		missing = append(missing, "total_trades")
	}
	if raw.EquityCurve == nil {
		missing = append(missing, "equity_curve")
	}
	if raw.TradeLog == nil {
		missing = append(missing, "trade_log")
	}
	if len(missing) > 0 {
		return apperrors.NewIncompleteAIResponseError("backtest", missing...)
	}
	return nil
}

// ClampTotalReturn caps returns beyond +/-100% at +50 or -30 by sign.
func ClampTotalReturn(v float64) float64 {
	if math.Abs(v) > ReturnLimit {
		if v > 0 {
			return ReturnCapPositive
		}
		return ReturnCapNegative
	}
	return v
}

// ClampMaxDrawdown replaces a drawdown below -50 with -35, then forces a
// positive drawdown negative. The floor is checked on the raw value, so a
// raw 60 persists as -60.
func ClampMaxDrawdown(v float64) float64 {
	if v < DrawdownFloor {
		return DrawdownReplacement
	}
	if v > 0 {
		return -math.Abs(v)
	}
	return v
}

// ClampSharpe replaces a Sharpe ratio above 3.5 with 2.5.
func ClampSharpe(v float64) float64 {
	if v > SharpeCeiling {
		return SharpeReplacement
	}
	return v
}

// FinalCapital derives the ending capital from a clamped return percentage.
func FinalCapital(initial, clampedReturn float64) float64 {
	return initial * (1 + clampedReturn/100)
}

// Normalize validates raw and builds the persistable record. The LLM's own
// final_capital is ignored.
func Normalize(raw RawResult, p Params) (models.Backtest, error) {
	if err := Validate(raw); err != nil {
		return models.Backtest{}, err
	}

	totalReturn := ClampTotalReturn(raw.TotalReturn)
	symbols := append([]string(nil), p.Symbols...)

	return models.Backtest{
		BacktestRunID:  p.RunID,
		StrategyID:     p.StrategyID,
		StrategyName:   p.StrategyName,
		StartDate:      p.StartDate,
		EndDate:        p.EndDate,
		SymbolsTested:  symbols,
		InitialCapital: p.InitialCapital,
		FinalCapital:   FinalCapital(p.InitialCapital, totalReturn),
		TotalReturn:    totalReturn,
		TotalTrades:    int(math.Round(*raw.TotalTrades)),
		WinningTrades:  int(math.Round(raw.WinningTrades)),
		LosingTrades:   int(math.Round(raw.LosingTrades)),
		WinRate:        raw.WinRate,
		AvgWin:         valueOrZero(raw.AvgWin),
		AvgLoss:        valueOrZero(raw.AvgLoss),
		MaxDrawdown:    ClampMaxDrawdown(raw.MaxDrawdown),
		SharpeRatio:    ClampSharpe(raw.SharpeRatio),
		ProfitFactor:   raw.ProfitFactor,
		EquityCurve:    raw.EquityCurve,
		TradeLog:       raw.TradeLog,
		Status:         models.BacktestCompleted,
	}, nil
}

// Renormalize re-applies the clamps to an existing record. Applied to the
// output of Normalize it changes nothing, except a drawdown that Normalize
// negated from a raw value above 50: that one is below the floor on the
// second pass and becomes -35.
func Renormalize(bt models.Backtest) models.Backtest {
	bt.TotalReturn = ClampTotalReturn(bt.TotalReturn)
	bt.MaxDrawdown = ClampMaxDrawdown(bt.MaxDrawdown)
	bt.SharpeRatio = ClampSharpe(bt.SharpeRatio)
	bt.FinalCapital = FinalCapital(bt.InitialCapital, bt.TotalReturn)
	return bt
}

func valueOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

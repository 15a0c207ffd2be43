package trading

import (
	"sort"

	"github.com/shopspring/decimal"

	"algotrader/internal/models"
)

// LiveStats aggregates the journal.
type LiveStats struct {
	OpenTrades   int           `json:"open_trades"`
	ClosedTrades int           `json:"closed_trades"`
	Winners      int           `json:"winners"`
	Losers       int           `json:"losers"`
	TotalPnL     float64       `json:"total_pnl"`
	WinRate      float64       `json:"win_rate"`
	AvgWin       float64       `json:"avg_win"`
	AvgLoss      float64       `json:"avg_loss"`
	BestTrade    *models.Trade `json:"best_trade,omitempty"`
	WorstTrade   *models.Trade `json:"worst_trade,omitempty"`
}

// StrategyPerformance is the average backtested return of one strategy.
type StrategyPerformance struct {
	StrategyName string  `json:"strategy_name"`
	Backtests    int     `json:"backtests"`
	AvgReturn    float64 `json:"avg_return"`
}

// BacktestStats aggregates completed backtests.
type BacktestStats struct {
	Completed  int                   `json:"completed"`
	AvgReturn  float64               `json:"avg_return"`
	AvgWinRate float64               `json:"avg_win_rate"`
	AvgSharpe  float64               `json:"avg_sharpe"`
	Best       *models.Backtest      `json:"best,omitempty"`
	ByStrategy []StrategyPerformance `json:"by_strategy"`
}

// Performance is the combined performance view.
type Performance struct {
	Live      LiveStats     `json:"live"`
	Backtests BacktestStats `json:"backtests"`
}

// Stats computes live journal and backtest aggregates. Only closed trades
// count toward P&L and only completed backtests toward the averages.
func Stats(trades []models.Trade, backtests []models.Backtest) Performance {
	return Performance{Live: liveStats(trades), Backtests: backtestStats(backtests)}
}

func liveStats(trades []models.Trade) LiveStats {
	var s LiveStats
	total, wins, losses := decimal.Zero, decimal.Zero, decimal.Zero

	for i := range trades {
		t := trades[i]
		if t.Status != models.TradeClosed {
			s.OpenTrades++
			continue
		}
		s.ClosedTrades++
		pnl := decimal.NewFromFloat(t.RealizedPnL())
		total = total.Add(pnl)
		switch pnl.Sign() {
		case 1:
			s.Winners++
			wins = wins.Add(pnl)
		case -1:
			s.Losers++
			losses = losses.Add(pnl)
		}
		if s.BestTrade == nil || t.RealizedPnL() > s.BestTrade.RealizedPnL() {
			s.BestTrade = &trades[i]
		}
		if s.WorstTrade == nil || t.RealizedPnL() < s.WorstTrade.RealizedPnL() {
			s.WorstTrade = &trades[i]
		}
	}

	s.TotalPnL = total.InexactFloat64()
	if s.ClosedTrades > 0 {
		s.WinRate = float64(s.Winners) / float64(s.ClosedTrades) * 100
	}
	if s.Winners > 0 {
		s.AvgWin = wins.Div(decimal.NewFromInt(int64(s.Winners))).InexactFloat64()
	}
	if s.Losers > 0 {
		s.AvgLoss = losses.Div(decimal.NewFromInt(int64(s.Losers))).InexactFloat64()
	}
	return s
}

func backtestStats(backtests []models.Backtest) BacktestStats {
	var s BacktestStats
	var sumReturn, sumWinRate, sumSharpe float64
	type agg struct {
		n   int
		sum float64
	}
	byName := map[string]*agg{}

	for i := range backtests {
		bt := backtests[i]
		if bt.Status != models.BacktestCompleted {
			continue
		}
		s.Completed++
		sumReturn += bt.TotalReturn
		sumWinRate += bt.WinRate
		sumSharpe += bt.SharpeRatio
		if s.Best == nil || bt.TotalReturn > s.Best.TotalReturn {
			s.Best = &backtests[i]
		}

		a, ok := byName[bt.StrategyName]
		if !ok {
			a = &agg{}
			byName[bt.StrategyName] = a
		}
		a.n++
		a.sum += bt.TotalReturn
	}

	if s.Completed > 0 {
		n := float64(s.Completed)
		s.AvgReturn = sumReturn / n
		s.AvgWinRate = sumWinRate / n
		s.AvgSharpe = sumSharpe / n
	}

	s.ByStrategy = make([]StrategyPerformance, 0, len(byName))
	for name, a := range byName {
		s.ByStrategy = append(s.ByStrategy, StrategyPerformance{
			StrategyName: name,
			Backtests:    a.n,
			AvgReturn:    a.sum / float64(a.n),
		})
	}
	sort.Slice(s.ByStrategy, func(i, j int) bool {
		if s.ByStrategy[i].AvgReturn != s.ByStrategy[j].AvgReturn {
			return s.ByStrategy[i].AvgReturn > s.ByStrategy[j].AvgReturn
		}
		return s.ByStrategy[i].StrategyName < s.ByStrategy[j].StrategyName
	})
	return s
}

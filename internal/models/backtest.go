package models

// EquityPoint is one sample of the equity curve.
type EquityPoint struct {
	Date   string  `json:"date"`
	Equity float64 `json:"equity"`
}

// BacktestTrade is one entry of a backtest's trade log.
type BacktestTrade struct {
	Symbol        string  `json:"symbol"`
	EntryDate     string  `json:"entry_date"`
	ExitDate      string  `json:"exit_date"`
	Action        string  `json:"action"`
	EntryPrice    float64 `json:"entry_price"`
	ExitPrice     float64 `json:"exit_price"`
	Quantity      float64 `json:"quantity"`
	PnL           float64 `json:"pnl"`
	PnLPercentage float64 `json:"pnl_percentage"`
	Reason        string  `json:"reason,omitempty"`
}

// BacktestStatus is the lifecycle state of a backtest record.
type BacktestStatus string

const (
	BacktestCompleted BacktestStatus = "completed"
)

// Backtest is a persisted, normalized performance record. It is immutable
// once created.
type Backtest struct {
	Meta
	BacktestRunID  string          `json:"backtest_run_id"`
	StrategyID     string          `json:"strategy_id"`
	StrategyName   string          `json:"strategy_name"`
	StartDate      string          `json:"start_date"`
	EndDate        string          `json:"end_date"`
	SymbolsTested  []string        `json:"symbols_tested"`
	InitialCapital float64         `json:"initial_capital"`
	FinalCapital   float64         `json:"final_capital"`
	TotalReturn    float64         `json:"total_return"`
	TotalTrades    int             `json:"total_trades"`
	WinningTrades  int             `json:"winning_trades"`
	LosingTrades   int             `json:"losing_trades"`
	WinRate        float64         `json:"win_rate"`
	AvgWin         float64         `json:"avg_win"`
	AvgLoss        float64         `json:"avg_loss"`
	MaxDrawdown    float64         `json:"max_drawdown"`
	SharpeRatio    float64         `json:"sharpe_ratio"`
	ProfitFactor   float64         `json:"profit_factor"`
	EquityCurve    []EquityPoint   `json:"equity_curve"`
	TradeLog       []BacktestTrade `json:"trade_log"`
	Status         BacktestStatus  `json:"status"`
}

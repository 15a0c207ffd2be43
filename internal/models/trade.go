package models

import "time"

// TradeStatus is the lifecycle state of a journaled trade.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "open"
	TradeClosed TradeStatus = "closed"
)

// Trade is a journaled position, opened from a signal or entered manually.
// It transitions open to closed exactly once.
type Trade struct {
	Meta
	SignalID        string       `json:"signal_id,omitempty"`
	StrategyID      string       `json:"strategy_id,omitempty"`
	Symbol          string       `json:"symbol"`
	AssetType       AssetType    `json:"asset_type"`
	Action          SignalAction `json:"action"`
	EntryPrice      float64      `json:"entry_price"`
	Quantity        float64      `json:"quantity"`
	EntryDate       time.Time    `json:"entry_date"`
	Status          TradeStatus  `json:"status"`
	StopLossPrice   float64      `json:"stop_loss_price,omitempty"`
	TakeProfitPrice float64      `json:"take_profit_price,omitempty"`
	ExitPrice       *float64     `json:"exit_price,omitempty"`
	ExitDate        *time.Time   `json:"exit_date,omitempty"`
	Commission      *float64     `json:"commission,omitempty"`
	PnL             *float64     `json:"pnl,omitempty"`
	PnLPercentage   *float64     `json:"pnl_percentage,omitempty"`
	Notes           string       `json:"notes,omitempty"`
	OrderID         string       `json:"order_id,omitempty"`
}

// RealizedPnL returns the trade's P&L, or zero while it is unset.
func (t Trade) RealizedPnL() float64 {
	if t.PnL == nil {
		return 0
	}
	return *t.PnL
}

// WatchlistAsset is a symbol the user follows.
type WatchlistAsset struct {
	Meta
	Symbol     string    `json:"symbol"`
	AssetType  AssetType `json:"asset_type"`
	Name       string    `json:"name,omitempty"`
	IsFavorite bool      `json:"is_favorite"`
}

package models

import (
	"strings"
	"time"
)

// SignalAction is the trade direction a signal recommends.
type SignalAction string

const (
	ActionBuy         SignalAction = "buy"
	ActionSell        SignalAction = "sell"
	ActionBuyToOpen   SignalAction = "buy_to_open"
	ActionSellToClose SignalAction = "sell_to_close"
)

// Valid reports whether a is a known action.
func (a SignalAction) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionBuyToOpen, ActionSellToClose:
		return true
	}
	return false
}

// IsBuy reports whether the action opens or adds on the buy side.
func (a SignalAction) IsBuy() bool {
	return strings.Contains(string(a), "buy")
}

// SignalStatus tracks whether a signal has been acted on.
type SignalStatus string

const (
	SignalActive   SignalStatus = "active"
	SignalExecuted SignalStatus = "executed"
)

// SignalMarketData is the market snapshot captured with a signal.
type SignalMarketData struct {
	CurrentPrice float64 `json:"current_price"`
}

// Signal is an AI-generated trade recommendation.
type Signal struct {
	Meta
	StrategyID      string            `json:"strategy_id"`
	StrategyName    string            `json:"strategy_name,omitempty"`
	Symbol          string            `json:"symbol"`
	AssetType       AssetType         `json:"asset_type"`
	Action          SignalAction      `json:"action"`
	SignalType      string            `json:"signal_type,omitempty"`
	Confidence      float64           `json:"confidence"`
	EntryPrice      float64           `json:"entry_price"`
	StopLoss        float64           `json:"stop_loss"`
	TakeProfit      float64           `json:"take_profit"`
	Quantity        float64           `json:"quantity"`
	Rationale       string            `json:"rationale"`
	Status          SignalStatus      `json:"status"`
	SignalTimestamp *time.Time        `json:"signal_timestamp,omitempty"`
	MarketData      *SignalMarketData `json:"market_data,omitempty"`
}

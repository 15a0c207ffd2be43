// Package trading executes signals against the brokerage account, keeps the
// trade journal and aggregates live and backtested performance.
package trading

import (
	"time"

	"algotrader/internal/models"
)

// OrderType is the brokerage order type.
type OrderType string

const (
	OrderMarket OrderType = "market"
	OrderLimit  OrderType = "limit"
)

// TimeInForceDay is the only time-in-force orders are sent with.
const TimeInForceDay = "day"

// OrderSide is derived from a signal action.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// SideFor maps a signal action to an order side: any buy-flavoured action
// buys, everything else sells.
func SideFor(a models.SignalAction) OrderSide {
	if a.IsBuy() {
		return SideBuy
	}
	return SideSell
}

// AccountSnapshot is what the live trading view shows.
type AccountSnapshot struct {
	Account   models.Account    `json:"account"`
	Positions []models.Position `json:"positions"`
	Orders    []models.Order    `json:"orders"`
	FetchedAt time.Time         `json:"fetched_at"`
}

// Package models provides the entity records exchanged with the gateway.
package models

import (
	"time"
)

// EntityKind names a remotely persisted record type.
type EntityKind string

const (
	KindStrategy       EntityKind = "Strategy"
	KindSignal         EntityKind = "Signal"
	KindBacktest       EntityKind = "Backtest"
	KindTrade          EntityKind = "Trade"
	KindWatchlistAsset EntityKind = "WatchlistAsset"
	KindUser           EntityKind = "User"
)

// EntityKinds lists every kind the gateway stores.
func EntityKinds() []EntityKind {
	return []EntityKind{KindStrategy, KindSignal, KindBacktest, KindTrade, KindWatchlistAsset, KindUser}
}

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	for _, known := range EntityKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// AssetType is the asset class of a symbol.
type AssetType string

const (
	AssetStock     AssetType = "stock"
	AssetOption    AssetType = "option"
	AssetFuture    AssetType = "future"
	AssetCrypto    AssetType = "crypto"
	AssetForex     AssetType = "forex"
	AssetCommodity AssetType = "commodity"
)

// Meta carries the fields the gateway owns on every record.
type Meta struct {
	ID          string     `json:"id,omitempty" yaml:"id,omitempty"`
	CreatedDate *time.Time `json:"created_date,omitempty" yaml:"-"`
	UpdatedDate *time.Time `json:"updated_date,omitempty" yaml:"-"`
	CreatedBy   string     `json:"created_by,omitempty" yaml:"-"`
}

// Quote is one row of the market data function response.
type Quote struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"changePercent"`
	Volume        float64 `json:"volume"`
}

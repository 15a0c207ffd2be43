package backend

import (
	"context"
	"sort"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
	"algotrader/internal/security"
)

// MarketDataAPI is the part of the Alpaca market data client getMarketData
// uses. *marketdata.Client satisfies it.
type MarketDataAPI interface {
	GetSnapshots(symbols []string, req marketdata.GetSnapshotRequest) (map[string]*marketdata.Snapshot, error)
	GetCryptoSnapshots(symbols []string, req marketdata.GetCryptoSnapshotRequest) (map[string]*marketdata.CryptoSnapshot, error)
}

// NewAlpacaMarketDataClient creates the Alpaca market data client. An empty
// feed uses the account's default.
func NewAlpacaMarketDataClient(key, secret, feed string) *marketdata.Client {
	return marketdata.NewClient(marketdata.ClientOpts{
		APIKey:    key,
		APISecret: secret,
		Feed:      marketdata.Feed(feed),
	})
}

// MarketDataFunction implements getMarketData{symbols}. Crypto pairs are
// written with a dash (BTC-USD) and looked up as BTC/USD. Symbols without a
// snapshot are left out of the response.
func MarketDataFunction(api MarketDataAPI) Function {
	return func(ctx context.Context, call Call) (any, error) {
		var stocks, crypto []string
		for _, s := range stringsParam(call.Payload, "symbols") {
			s = security.SanitizeSymbol(s)
			switch {
			case s == "":
			case strings.Contains(s, "-"):
				crypto = append(crypto, s)
			default:
				stocks = append(stocks, s)
			}
		}
		if len(stocks)+len(crypto) == 0 {
			return nil, apperrors.NewValidationError("symbols", nil, "at least one symbol is required")
		}

		quotes := make([]models.Quote, 0, len(stocks)+len(crypto))
		if len(stocks) > 0 {
			snaps, err := api.GetSnapshots(stocks, marketdata.GetSnapshotRequest{})
			if err != nil {
				return nil, apperrors.NewRemoteCallError("alpaca.snapshots", 0, err.Error(), err)
			}
			for _, sym := range stocks {
				if q, ok := stockQuote(sym, snaps[sym]); ok {
					quotes = append(quotes, q)
				}
			}
		}
		if len(crypto) > 0 {
			pairs := make([]string, len(crypto))
			for i, s := range crypto {
				pairs[i] = strings.Replace(s, "-", "/", 1)
			}
			snaps, err := api.GetCryptoSnapshots(pairs, marketdata.GetCryptoSnapshotRequest{})
			if err != nil {
				return nil, apperrors.NewRemoteCallError("alpaca.crypto_snapshots", 0, err.Error(), err)
			}
			for i, sym := range crypto {
				if q, ok := cryptoQuote(sym, snaps[pairs[i]]); ok {
					quotes = append(quotes, q)
				}
			}
		}

		sort.SliceStable(quotes, func(i, j int) bool { return quotes[i].Symbol < quotes[j].Symbol })
		return quotes, nil
	}
}

func stockQuote(symbol string, snap *marketdata.Snapshot) (models.Quote, bool) {
	if snap == nil || snap.LatestTrade == nil {
		return models.Quote{}, false
	}
	q := models.Quote{Symbol: symbol, Price: snap.LatestTrade.Price}
	if snap.DailyBar != nil {
		q.Volume = float64(snap.DailyBar.Volume)
	}
	if snap.PrevDailyBar != nil {
		q.Change, q.ChangePercent = change(q.Price, snap.PrevDailyBar.Close)
	}
	return q, true
}

func cryptoQuote(symbol string, snap *marketdata.CryptoSnapshot) (models.Quote, bool) {
	if snap == nil || snap.LatestTrade == nil {
		return models.Quote{}, false
	}
	q := models.Quote{Symbol: symbol, Price: snap.LatestTrade.Price}
	if snap.DailyBar != nil {
		q.Volume = snap.DailyBar.Volume
	}
	if snap.PrevDailyBar != nil {
		q.Change, q.ChangePercent = change(q.Price, snap.PrevDailyBar.Close)
	}
	return q, true
}

func change(price, prevClose float64) (float64, float64) {
	if prevClose == 0 {
		return 0, 0
	}
	diff := price - prevClose
	return diff, diff / prevClose * 100
}

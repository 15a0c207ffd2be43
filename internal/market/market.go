// Package market manages the watchlist and fetches quotes through the
// getMarketData function, falling back to the local quote cache.
package market

import (
	"context"
	"sort"
	"time"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/poller"
	"algotrader/internal/security"
	"algotrader/internal/store"
	"algotrader/pkg/utils"
)

// DefaultWatchInterval is the quote refresh period.
const DefaultWatchInterval = 60 * time.Second

// DefaultSymbols is the market overview shown when no watchlist exists.
var DefaultSymbols = []string{
	"SPY", "QQQ", "AAPL", "MSFT", "NVDA", "TSLA",
	"GOOGL", "AMZN", "META", "BTC-USD", "ETH-USD", "GLD",
}

// QuoteCache stores the last fetched quotes.
type QuoteCache interface {
	SaveQuotes(ctx context.Context, quotes []models.Quote, at time.Time) error
	GetQuotes(ctx context.Context, symbols []string) ([]store.CachedQuote, error)
}

// Options configures a Service.
type Options struct {
	Retry utils.RetryConfig
	Cache QuoteCache
	Clock poller.Clock
}

// QuoteSet is one quotes response. Stale quotes come from the cache after
// the live call failed.
type QuoteSet struct {
	Quotes    []models.Quote `json:"quotes"`
	Missing   []string       `json:"missing,omitempty"`
	Stale     bool           `json:"stale"`
	FetchedAt time.Time      `json:"fetched_at"`
}

// Service is the market data and watchlist service.
type Service struct {
	gw   gateway.Gateway
	opts Options
}

// New creates a Service. A zero retry config means one call plus two
// retries with exponential backoff.
func New(gw gateway.Gateway, opts Options) *Service {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = utils.DefaultRetryConfig()
	}
	if opts.Retry.Retryable == nil {
		opts.Retry.Retryable = retryable
	}
	if opts.Clock == nil {
		opts.Clock = poller.RealClock()
	}
	return &Service{gw: gw, opts: opts}
}

// retryable skips client errors; they will not get better.
func retryable(err error) bool {
	var rce *apperrors.RemoteCallError
	if apperrors.As(err, &rce) {
		return rce.Status < 400 || rce.Status >= 500
	}
	return apperrors.Classify(err) != apperrors.KindValidation
}

// Quotes fetches quotes for symbols. When every attempt fails the cached
// quotes are returned marked stale; the error is returned only when the
// cache has nothing either.
func (s *Service) Quotes(ctx context.Context, symbols []string) (*QuoteSet, error) {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil, apperrors.NewValidationError("symbols", nil, "at least one symbol is required")
	}
	logger := logging.FromContext(ctx)

	quotes, err := utils.RetryWithResult(ctx, s.opts.Retry, func() ([]models.Quote, error) {
		var out []models.Quote
		err := gateway.Call(ctx, s.gw, gateway.FnMarketData, "", map[string]any{"symbols": symbols}, &out)
		return out, err
	})
	now := s.opts.Clock.Now()
	if err == nil {
		if s.opts.Cache != nil {
			if cerr := s.opts.Cache.SaveQuotes(ctx, quotes, now); cerr != nil {
				logger.Warn().Err(cerr).Msg("Caching quotes failed")
			}
		}
		return &QuoteSet{Quotes: quotes, Missing: missing(symbols, quotes), FetchedAt: now}, nil
	}

	logger.Warn().Err(err).Strs("symbols", symbols).Msg("Market data unavailable")
	if s.opts.Cache == nil {
		return nil, err
	}
	cached, cerr := s.opts.Cache.GetQuotes(ctx, symbols)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}

	set := &QuoteSet{Stale: true}
	for _, c := range cached {
		set.Quotes = append(set.Quotes, c.Quote)
		if set.FetchedAt.IsZero() || c.FetchedAt.Before(set.FetchedAt) {
			set.FetchedAt = c.FetchedAt
		}
	}
	set.Missing = missing(symbols, set.Quotes)
	return set, nil
}

// Watch refreshes quotes every interval, starting at once, and hands each
// result to onUpdate. onUpdate is not called for a run cancelled mid-flight.
func (s *Service) Watch(ctx context.Context, symbols []string, interval time.Duration, onUpdate func(*QuoteSet, error)) *poller.Handle {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}
	return poller.Every(ctx, interval, func(ctx context.Context) {
		set, err := s.Quotes(ctx, symbols)
		if ctx.Err() != nil {
			return
		}
		onUpdate(set, err)
	}, poller.WithClock(s.opts.Clock), poller.Immediate(), poller.Named("market-watch"))
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = security.SanitizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		out = append(out, sym)
	}
	return out
}

func missing(symbols []string, quotes []models.Quote) []string {
	have := make(map[string]bool, len(quotes))
	for _, q := range quotes {
		have[q.Symbol] = true
	}
	var out []string
	for _, sym := range symbols {
		if !have[sym] {
			out = append(out, sym)
		}
	}
	return out
}

// AddAsset is the watchlist add form.
type AddAsset struct {
	Symbol    string
	AssetType models.AssetType
	Name      string
}

// Watchlist returns the watchlist, favourites first, then by symbol.
func (s *Service) Watchlist(ctx context.Context) ([]models.WatchlistAsset, error) {
	assets, err := gateway.Watchlist(s.gw).List(ctx, gateway.ListOptions{})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(assets, func(i, j int) bool {
		if assets[i].IsFavorite != assets[j].IsFavorite {
			return assets[i].IsFavorite
		}
		return assets[i].Symbol < assets[j].Symbol
	})
	return assets, nil
}

// Add puts a symbol on the watchlist. Adding a symbol that is already
// there returns the existing entry.
func (s *Service) Add(ctx context.Context, in AddAsset) (models.WatchlistAsset, bool, error) {
	sym := security.SanitizeSymbol(in.Symbol)
	if sym == "" {
		return models.WatchlistAsset{}, false, apperrors.NewValidationError("symbol", in.Symbol, "is required")
	}
	if in.AssetType == "" {
		in.AssetType = models.AssetStock
	}
	if !validAssetType(in.AssetType) {
		return models.WatchlistAsset{}, false, apperrors.NewValidationError("asset_type", in.AssetType, "is not a known asset type")
	}

	existing, err := s.find(ctx, sym)
	if err == nil {
		return existing, false, nil
	}
	if !apperrors.Is(err, apperrors.ErrNotFound) {
		return models.WatchlistAsset{}, false, err
	}

	name := in.Name
	if name == "" {
		name = sym
	}
	created, err := gateway.Watchlist(s.gw).Create(ctx, models.WatchlistAsset{
		Symbol:    sym,
		AssetType: in.AssetType,
		Name:      name,
	})
	if err != nil {
		return models.WatchlistAsset{}, false, apperrors.NewPersistenceError("WatchlistAsset", err)
	}
	return created, true, nil
}

// Remove deletes symbol from the watchlist.
func (s *Service) Remove(ctx context.Context, symbol string) error {
	asset, err := s.find(ctx, security.SanitizeSymbol(symbol))
	if err != nil {
		return err
	}
	return gateway.Watchlist(s.gw).Delete(ctx, asset.ID)
}

// ToggleFavorite flips the favourite flag of symbol.
func (s *Service) ToggleFavorite(ctx context.Context, symbol string) (models.WatchlistAsset, error) {
	asset, err := s.find(ctx, security.SanitizeSymbol(symbol))
	if err != nil {
		return models.WatchlistAsset{}, err
	}
	return gateway.Watchlist(s.gw).Patch(ctx, asset.ID, gateway.Record{"is_favorite": !asset.IsFavorite})
}

// Symbols returns the watchlist symbols, or DefaultSymbols when it is empty.
func (s *Service) Symbols(ctx context.Context) ([]string, error) {
	assets, err := s.Watchlist(ctx)
	if err != nil {
		return nil, err
	}
	if len(assets) == 0 {
		return append([]string(nil), DefaultSymbols...), nil
	}
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out, nil
}

func (s *Service) find(ctx context.Context, symbol string) (models.WatchlistAsset, error) {
	assets, err := gateway.Watchlist(s.gw).List(ctx, gateway.ListOptions{})
	if err != nil {
		return models.WatchlistAsset{}, err
	}
	for _, a := range assets {
		if a.Symbol == symbol {
			return a, nil
		}
	}
	return models.WatchlistAsset{}, apperrors.Wrapf(apperrors.ErrNotFound, "watchlist symbol %s", symbol)
}

func validAssetType(t models.AssetType) bool {
	switch t {
	case models.AssetStock, models.AssetOption, models.AssetFuture,
		models.AssetCrypto, models.AssetForex, models.AssetCommodity:
		return true
	}
	return false
}

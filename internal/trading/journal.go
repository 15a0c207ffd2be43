package trading

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/security"
)

// CloseRequest is the journal close form.
type CloseRequest struct {
	ExitPrice  float64
	ExitDate   time.Time
	Commission float64
	Notes      string
}

// PnL computes the realized profit of a closed position. Buy-side actions
// profit when the exit is above the entry, sell-side actions when it is
// below; commission is always subtracted. The percentage is measured on the
// price move alone.
func PnL(action models.SignalAction, entry, exit, qty, commission float64) (pnl, pct float64) {
	e, x := decimal.NewFromFloat(entry), decimal.NewFromFloat(exit)
	move := x.Sub(e)
	if !action.IsBuy() {
		move = e.Sub(x)
	}
	pnl = move.Mul(decimal.NewFromFloat(qty)).Sub(decimal.NewFromFloat(commission)).InexactFloat64()
	if !e.IsZero() {
		pct = x.Sub(e).Div(e).Mul(decimal.NewFromInt(100)).InexactFloat64()
	}
	return pnl, pct
}

// Journal records and closes trades.
type Journal struct {
	entities gateway.Entities
	now      func() time.Time
}

// NewJournal creates a Journal over the Trade collection.
func NewJournal(entities gateway.Entities) *Journal {
	return &Journal{entities: entities, now: time.Now}
}

// List returns journaled trades, newest first.
func (j *Journal) List(ctx context.Context) ([]models.Trade, error) {
	return gateway.Trades(j.entities).List(ctx, gateway.ListOptions{Sort: "-created_date"})
}

// Record adds a manual journal entry. It always starts open.
func (j *Journal) Record(ctx context.Context, t models.Trade) (models.Trade, error) {
	t.Symbol = security.SanitizeSymbol(t.Symbol)
	switch {
	case t.Symbol == "":
		return models.Trade{}, apperrors.NewValidationError("symbol", nil, "is required")
	case !t.Action.Valid():
		return models.Trade{}, apperrors.NewValidationError("action", t.Action, "is not a known action")
	case t.EntryPrice <= 0:
		return models.Trade{}, apperrors.NewValidationError("entry_price", t.EntryPrice, "must be greater than zero")
	case t.Quantity <= 0:
		return models.Trade{}, apperrors.NewValidationError("quantity", t.Quantity, "must be greater than zero")
	}
	if t.AssetType == "" {
		t.AssetType = models.AssetStock
	}
	if t.EntryDate.IsZero() {
		t.EntryDate = j.now().UTC()
	}
	t.Status = models.TradeOpen
	t.ExitPrice, t.ExitDate, t.Commission, t.PnL, t.PnLPercentage = nil, nil, nil, nil, nil

	created, err := gateway.Trades(j.entities).Create(ctx, t)
	if err != nil {
		return models.Trade{}, apperrors.NewPersistenceError("Trade", err)
	}
	return created, nil
}

// Close computes the realized P&L and moves the trade to closed. A closed
// trade cannot be closed again.
func (j *Journal) Close(ctx context.Context, t models.Trade, req CloseRequest) (models.Trade, error) {
	if t.Status == models.TradeClosed {
		return models.Trade{}, &apperrors.ValidationError{
			Field:   "status",
			Value:   t.ID,
			Message: "trade is already closed",
			Err:     apperrors.ErrTradeClosed,
		}
	}
	if req.ExitPrice <= 0 {
		return models.Trade{}, apperrors.NewValidationError("exit_price", req.ExitPrice, "must be greater than zero")
	}
	if req.Commission < 0 {
		return models.Trade{}, apperrors.NewValidationError("commission", req.Commission, "cannot be negative")
	}
	if req.ExitDate.IsZero() {
		req.ExitDate = j.now()
	}

	pnl, pct := PnL(t.Action, t.EntryPrice, req.ExitPrice, t.Quantity, req.Commission)
	exitDate := req.ExitDate.UTC()
	t.ExitPrice = &req.ExitPrice
	t.ExitDate = &exitDate
	t.Commission = &req.Commission
	t.PnL = &pnl
	t.PnLPercentage = &pct
	t.Status = models.TradeClosed
	if req.Notes != "" {
		t.Notes = security.SanitizeText(req.Notes)
	}

	updated, err := gateway.Trades(j.entities).Update(ctx, t.ID, t)
	if err != nil {
		return models.Trade{}, apperrors.NewPersistenceError("Trade", err)
	}
	logger := logging.FromContext(ctx)
	logger.Info().
		Str("trade_id", t.ID).
		Str("symbol", t.Symbol).
		Float64("pnl", pnl).
		Msg("Trade closed")
	return updated, nil
}

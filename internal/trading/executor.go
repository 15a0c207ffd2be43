package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/security"
)

// RecentOrdersLimit bounds the order history in a snapshot.
const RecentOrdersLimit = 20

// OrderTicket is the order form for executing a signal.
type OrderTicket struct {
	Quantity   int64
	Type       OrderType
	LimitPrice decimal.Decimal
}

// Validate checks the ticket before anything is sent.
func (t OrderTicket) Validate() error {
	if t.Quantity <= 0 {
		return apperrors.NewValidationError("quantity", t.Quantity, "must be at least 1")
	}
	switch t.Type {
	case OrderMarket:
	case OrderLimit:
		if !t.LimitPrice.IsPositive() {
			return apperrors.NewValidationError("limit_price", t.LimitPrice.String(), "is required for limit orders")
		}
	default:
		return apperrors.NewValidationError("type", t.Type, "must be market or limit")
	}
	return nil
}

// Execution is the outcome of ExecuteSignal.
type Execution struct {
	Order  models.Order  `json:"order"`
	Signal models.Signal `json:"signal"`
	Trade  models.Trade  `json:"trade"`
}

// Executor places orders for signals through the alpacaTrading function.
type Executor struct {
	gw     gateway.Gateway
	access *security.AccessController
	now    func() time.Time
}

// NewExecutor creates an Executor. access may be nil.
func NewExecutor(gw gateway.Gateway, access *security.AccessController) *Executor {
	return &Executor{gw: gw, access: access, now: time.Now}
}

// AccountReady reports whether the brokerage account is approved for
// trading. The status is fetched on every call.
func (e *Executor) AccountReady(ctx context.Context) (bool, error) {
	var status models.AccountStatus
	if err := gateway.Call(ctx, e.gw, gateway.FnAlpacaBrokerage, gateway.ActionGetAccountStatus, nil, &status); err != nil {
		return false, err
	}
	return status.Approved(), nil
}

// Snapshot loads the account, open positions and recent orders.
func (e *Executor) Snapshot(ctx context.Context) (*AccountSnapshot, error) {
	snap := &AccountSnapshot{}
	if err := gateway.Call(ctx, e.gw, gateway.FnAlpacaTrading, gateway.ActionGetAccount, nil, &snap.Account); err != nil {
		return nil, err
	}
	if err := gateway.Call(ctx, e.gw, gateway.FnAlpacaTrading, gateway.ActionGetPositions, nil, &snap.Positions); err != nil {
		return nil, err
	}
	params := map[string]any{"status": "all", "limit": RecentOrdersLimit}
	if err := gateway.Call(ctx, e.gw, gateway.FnAlpacaTrading, gateway.ActionGetOrders, params, &snap.Orders); err != nil {
		return nil, err
	}
	snap.FetchedAt = e.now()
	return snap, nil
}

// ExecuteSignal places the order for signal, marks the signal executed and
// opens a journal trade linked to it. A failure after the order was placed
// is reported as a PersistenceError; the order is not cancelled.
func (e *Executor) ExecuteSignal(ctx context.Context, signal models.Signal, ticket OrderTicket) (*Execution, error) {
	if signal.ID == "" {
		return nil, apperrors.NewValidationError("signal", nil, "has no id")
	}
	if signal.Status == models.SignalExecuted {
		return nil, apperrors.NewValidationError("signal", signal.ID, "was already executed")
	}
	if err := ticket.Validate(); err != nil {
		return nil, err
	}
	if err := e.access.CheckPermission(ctx, security.OpPlaceOrder); err != nil {
		return nil, err
	}

	side := SideFor(signal.Action)
	params := map[string]any{
		"symbol":        signal.Symbol,
		"quantity":      ticket.Quantity,
		"side":          string(side),
		"type":          string(ticket.Type),
		"time_in_force": TimeInForceDay,
	}
	if ticket.Type == OrderLimit {
		params["limit_price"] = ticket.LimitPrice.InexactFloat64()
	}

	logger := logging.FromContext(ctx).With().Str("symbol", signal.Symbol).Str("side", string(side)).Logger()

	var order models.Order
	err := gateway.Call(ctx, e.gw, gateway.FnAlpacaTrading, gateway.ActionPlaceOrder, params, &order)
	if aerr := e.access.Audit().LogOrderPlaced(ctx, order.ID, signal.Symbol, string(side),
		fmt.Sprint(ticket.Quantity), string(ticket.Type), err); aerr != nil {
		logger.Warn().Err(aerr).Str("event", string(security.AuditOrderPlaced)).Msg("Failed to write audit event")
	}
	if err != nil {
		logger.Error().Err(err).Msg("Order placement failed")
		return nil, err
	}
	logger.Info().Str("order_id", order.ID).Int64("qty", ticket.Quantity).Msg("Order placed")

	signal.Status = models.SignalExecuted
	updated, err := gateway.Signals(e.gw).Update(ctx, signal.ID, signal)
	if err != nil {
		return nil, apperrors.NewPersistenceError("Signal", err)
	}

	entry := signal.EntryPrice
	if ticket.Type == OrderLimit {
		entry = ticket.LimitPrice.InexactFloat64()
	}
	trade, err := gateway.Trades(e.gw).Create(ctx, models.Trade{
		SignalID:        signal.ID,
		StrategyID:      signal.StrategyID,
		Symbol:          signal.Symbol,
		AssetType:       signal.AssetType,
		Action:          signal.Action,
		EntryPrice:      entry,
		Quantity:        float64(ticket.Quantity),
		EntryDate:       e.now().UTC(),
		Status:          models.TradeOpen,
		StopLossPrice:   signal.StopLoss,
		TakeProfitPrice: signal.TakeProfit,
		OrderID:         order.ID,
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError("Trade", err)
	}

	return &Execution{Order: order, Signal: updated, Trade: trade}, nil
}

// ClosePosition liquidates the open position in symbol.
func (e *Executor) ClosePosition(ctx context.Context, symbol string) error {
	symbol = security.SanitizeSymbol(symbol)
	if symbol == "" {
		return apperrors.NewValidationError("symbol", nil, "is required")
	}
	if err := e.access.CheckPermission(ctx, security.OpClosePosition); err != nil {
		return err
	}

	params := map[string]any{"symbol": symbol}
	err := gateway.Call(ctx, e.gw, gateway.FnAlpacaTrading, gateway.ActionClosePosition, params, nil)
	if aerr := e.access.Audit().Record(ctx, security.AuditPositionClosed, params, err); aerr != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(aerr).Str("event", string(security.AuditPositionClosed)).Msg("Failed to write audit event")
	}
	if err != nil {
		return err
	}
	logger := logging.FromContext(ctx)
	logger.Info().Str("symbol", symbol).Msg("Position closed")
	return nil
}

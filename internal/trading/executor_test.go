package trading

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/security"
)

type tradingFake struct {
	status string
	orders []map[string]any
	closed []string
	reject string
}

func (f *tradingFake) install(mem *gateway.Memory) {
	mem.HandleFunction(gateway.FnAlpacaBrokerage, func(_ context.Context, p map[string]any) (any, error) {
		return map[string]any{"success": true, "has_account": f.status != "", "status": f.status}, nil
	})
	mem.HandleFunction(gateway.FnAlpacaTrading, func(_ context.Context, p map[string]any) (any, error) {
		switch p["action"] {
		case gateway.ActionGetAccount:
			return map[string]any{"success": true, "data": map[string]any{
				"id": "acc-1", "status": "ACTIVE", "cash": "1000.50", "buying_power": "2001", "equity": "1000.50",
			}}, nil
		case gateway.ActionGetPositions:
			return map[string]any{"success": true, "data": []map[string]any{
				{"symbol": "AAPL", "qty": "3", "side": "long", "avg_entry_price": "180.25"},
			}}, nil
		case gateway.ActionGetOrders:
			if p["status"] != "all" || p["limit"] != RecentOrdersLimit {
				return map[string]any{"success": false, "error": "unexpected order query"}, nil
			}
			return map[string]any{"success": true, "data": []map[string]any{}}, nil
		case gateway.ActionPlaceOrder:
			if f.reject != "" {
				return map[string]any{"success": false, "error": f.reject}, nil
			}
			f.orders = append(f.orders, p)
			return map[string]any{"success": true, "data": map[string]any{
				"id": "ord-1", "symbol": p["symbol"], "side": p["side"], "type": p["type"], "status": "accepted",
			}}, nil
		case gateway.ActionClosePosition:
			f.closed = append(f.closed, p["symbol"].(string))
			return map[string]any{"success": true}, nil
		}
		return map[string]any{"success": false, "error": "unknown action"}, nil
	})
}

func newExecutor(t *testing.T, f *tradingFake, access *security.AccessController) (*Executor, *gateway.Memory) {
	t.Helper()
	mem := gateway.NewMemory()
	f.install(mem)
	return NewExecutor(mem, access), mem
}

func seedSignal(t *testing.T, mem *gateway.Memory, action models.SignalAction) models.Signal {
	t.Helper()
	s, err := gateway.Signals(mem).Create(context.Background(), models.Signal{
		StrategyID: "st-1",
		Symbol:     "AAPL",
		AssetType:  models.AssetStock,
		Action:     action,
		Confidence: 80,
		EntryPrice: 181.5,
		StopLoss:   175,
		TakeProfit: 195,
		Status:     models.SignalActive,
	})
	if err != nil {
		t.Fatalf("seeding signal: %v", err)
	}
	return s
}

func TestSideFor(t *testing.T) {
	tests := []struct {
		action models.SignalAction
		want   OrderSide
	}{
		{models.ActionBuy, SideBuy},
		{models.ActionBuyToOpen, SideBuy},
		{models.ActionSell, SideSell},
		{models.ActionSellToClose, SideSell},
	}
	for _, tt := range tests {
		if got := SideFor(tt.action); got != tt.want {
			t.Errorf("SideFor(%s) = %s, want %s", tt.action, got, tt.want)
		}
	}
}

func TestAccountReady(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"", false},
		{models.StatusSubmitted, false},
		{models.StatusApproved, true},
		{models.StatusActive, true},
	}
	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			ex, _ := newExecutor(t, &tradingFake{status: tt.status}, nil)
			got, err := ex.AccountReady(context.Background())
			if err != nil {
				t.Fatalf("AccountReady: %v", err)
			}
			if got != tt.want {
				t.Errorf("AccountReady = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSnapshot(t *testing.T) {
	ex, _ := newExecutor(t, &tradingFake{status: models.StatusActive}, nil)
	snap, err := ex.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !snap.Account.Cash.Equal(decimal.RequireFromString("1000.50")) {
		t.Errorf("cash = %s", snap.Account.Cash)
	}
	if len(snap.Positions) != 1 || snap.Positions[0].Symbol != "AAPL" {
		t.Errorf("positions = %+v", snap.Positions)
	}
}

func TestExecuteSignal_LimitOrder(t *testing.T) {
	f := &tradingFake{status: models.StatusActive}
	ex, mem := newExecutor(t, f, nil)
	sig := seedSignal(t, mem, models.ActionSellToClose)

	res, err := ex.ExecuteSignal(context.Background(), sig, OrderTicket{
		Quantity:   5,
		Type:       OrderLimit,
		LimitPrice: decimal.RequireFromString("182.10"),
	})
	if err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}

	if len(f.orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(f.orders))
	}
	o := f.orders[0]
	if o["side"] != "sell" || o["time_in_force"] != "day" || o["limit_price"] != 182.1 {
		t.Errorf("order params = %v", o)
	}
	if res.Signal.Status != models.SignalExecuted {
		t.Errorf("signal status = %s", res.Signal.Status)
	}
	if res.Trade.SignalID != sig.ID || res.Trade.Status != models.TradeOpen || res.Trade.EntryPrice != 182.1 {
		t.Errorf("trade = %+v", res.Trade)
	}
	if mem.Count(models.KindTrade) != 1 {
		t.Errorf("trades = %d, want 1", mem.Count(models.KindTrade))
	}
}

func TestExecuteSignal_RejectsBeforeSending(t *testing.T) {
	tests := []struct {
		name   string
		ticket OrderTicket
		access *security.AccessController
		want   error
	}{
		{"zero quantity", OrderTicket{Quantity: 0, Type: OrderMarket}, nil, nil},
		{"limit without price", OrderTicket{Quantity: 1, Type: OrderLimit}, nil, nil},
		{"unknown type", OrderTicket{Quantity: 1, Type: "stop"}, nil, nil},
		{"read only", OrderTicket{Quantity: 1, Type: OrderMarket}, security.NewAccessController(true, nil), apperrors.ErrReadOnlyMode},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &tradingFake{status: models.StatusActive}
			ex, mem := newExecutor(t, f, tt.access)
			sig := seedSignal(t, mem, models.ActionBuy)

			_, err := ex.ExecuteSignal(context.Background(), sig, tt.ticket)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
			if tt.want == nil && apperrors.Classify(err) != apperrors.KindValidation {
				t.Errorf("err = %v, want validation error", err)
			}
			if len(f.orders) != 0 {
				t.Error("order sent for a rejected ticket")
			}
		})
	}
}

func TestExecuteSignal_BrokerRejectionLeavesSignalActive(t *testing.T) {
	f := &tradingFake{status: models.StatusActive, reject: "insufficient buying power"}
	ex, mem := newExecutor(t, f, nil)
	sig := seedSignal(t, mem, models.ActionBuy)

	_, err := ex.ExecuteSignal(context.Background(), sig, OrderTicket{Quantity: 1, Type: OrderMarket})
	if apperrors.Classify(err) != apperrors.KindRemoteCall {
		t.Fatalf("err = %v, want remote call error", err)
	}
	signals, _ := gateway.Signals(mem).List(context.Background(), gateway.ListOptions{})
	if len(signals) != 1 || signals[0].Status != models.SignalActive {
		t.Errorf("signals = %+v", signals)
	}
	if mem.Count(models.KindTrade) != 0 {
		t.Error("trade opened for a rejected order")
	}
}

func TestClosePosition(t *testing.T) {
	f := &tradingFake{status: models.StatusActive}
	ex, _ := newExecutor(t, f, nil)

	if err := ex.ClosePosition(context.Background(), " aapl "); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}
	if len(f.closed) != 1 || f.closed[0] != "AAPL" {
		t.Errorf("closed = %v", f.closed)
	}

	ro, _ := newExecutor(t, &tradingFake{}, security.NewAccessController(true, nil))
	if err := ro.ClosePosition(context.Background(), "AAPL"); !errors.Is(err, apperrors.ErrReadOnlyMode) {
		t.Errorf("read-only err = %v", err)
	}
}

type brokenAudit struct{}

func (brokenAudit) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (brokenAudit) Close() error              { return nil }

func TestAuditFailureIsLoggedNotFatal(t *testing.T) {
	f := &tradingFake{status: models.StatusActive}
	access := security.NewAccessController(false, security.NewAuditLoggerWithWriter(brokenAudit{}))
	ex, mem := newExecutor(t, f, access)
	sig := seedSignal(t, mem, models.ActionBuy)

	var logs bytes.Buffer
	ctx := logging.WithLogger(context.Background(), zerolog.New(&logs))
	if _, err := ex.ExecuteSignal(ctx, sig, OrderTicket{Quantity: 2, Type: OrderMarket}); err != nil {
		t.Fatalf("ExecuteSignal: %v", err)
	}
	if err := ex.ClosePosition(ctx, "AAPL"); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	if len(f.orders) != 1 || len(f.closed) != 1 {
		t.Errorf("orders = %d, closed = %v", len(f.orders), f.closed)
	}
	out := logs.String()
	for _, event := range []security.AuditEventType{security.AuditOrderPlaced, security.AuditPositionClosed} {
		if !strings.Contains(out, `"event":"`+string(event)+`"`) {
			t.Errorf("no audit warning for %s in %s", event, out)
		}
	}
}

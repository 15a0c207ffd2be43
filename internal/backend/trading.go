package backend

import (
	"context"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/security"
)

// TradingAPI is the part of the Alpaca trading client the alpacaTrading
// function uses. *alpaca.Client satisfies it.
type TradingAPI interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	ClosePosition(symbol string, req alpaca.ClosePositionRequest) (*alpaca.Order, error)
}

// PaperTradingURL is the Alpaca paper trading endpoint.
const PaperTradingURL = "https://paper-api.alpaca.markets"

// NewAlpacaTradingClient creates the Alpaca trading client.
func NewAlpacaTradingClient(key, secret string, paper bool) *alpaca.Client {
	opts := alpaca.ClientOpts{APIKey: key, APISecret: secret}
	if paper {
		opts.BaseURL = PaperTradingURL
	}
	return alpaca.NewClient(opts)
}

// defaultOrderLimit caps getOrders when the caller sends no limit.
const defaultOrderLimit = 20

// TradingFunction implements alpacaTrading on api.
func TradingFunction(api TradingAPI) Function {
	return Actions(gateway.FnAlpacaTrading, map[string]Function{
		gateway.ActionGetAccount: func(ctx context.Context, _ Call) (any, error) {
			acct, err := api.GetAccount()
			return upstream(gateway.ActionGetAccount, acct, err)
		},
		gateway.ActionGetPositions: func(ctx context.Context, _ Call) (any, error) {
			positions, err := api.GetPositions()
			return upstream(gateway.ActionGetPositions, positions, err)
		},
		gateway.ActionGetOrders: func(ctx context.Context, call Call) (any, error) {
			req := alpaca.GetOrdersRequest{Status: stringParam(call.Payload, "status"), Limit: defaultOrderLimit}
			if req.Status == "" {
				req.Status = "all"
			}
			if limit, ok := floatParam(call.Payload, "limit"); ok && limit > 0 {
				req.Limit = int(limit)
			}
			orders, err := api.GetOrders(req)
			return upstream(gateway.ActionGetOrders, orders, err)
		},
		gateway.ActionPlaceOrder: func(ctx context.Context, call Call) (any, error) {
			req, err := placeOrderRequest(call.Payload)
			if err != nil {
				return nil, err
			}
			order, err := api.PlaceOrder(req)
			return upstream(gateway.ActionPlaceOrder, order, err)
		},
		gateway.ActionClosePosition: func(ctx context.Context, call Call) (any, error) {
			symbol := security.SanitizeSymbol(stringParam(call.Payload, "symbol"))
			if symbol == "" {
				return nil, apperrors.NewValidationError("symbol", nil, "is required")
			}
			order, err := api.ClosePosition(symbol, alpaca.ClosePositionRequest{})
			return upstream(gateway.ActionClosePosition, order, err)
		},
	})
}

func placeOrderRequest(p map[string]any) (alpaca.PlaceOrderRequest, error) {
	var req alpaca.PlaceOrderRequest

	symbol := security.SanitizeSymbol(stringParam(p, "symbol"))
	if symbol == "" {
		return req, apperrors.NewValidationError("symbol", nil, "is required")
	}
	qty, ok := floatParam(p, "quantity")
	if !ok || qty <= 0 {
		return req, apperrors.NewValidationError("quantity", p["quantity"], "must be positive")
	}

	var side alpaca.Side
	switch strings.ToLower(stringParam(p, "side")) {
	case "buy":
		side = alpaca.Buy
	case "sell":
		side = alpaca.Sell
	default:
		return req, apperrors.NewValidationError("side", p["side"], "must be buy or sell")
	}

	q := decimal.NewFromFloat(qty)
	req = alpaca.PlaceOrderRequest{
		Symbol:      symbol,
		Qty:         &q,
		Side:        side,
		Type:        alpaca.Market,
		TimeInForce: alpaca.Day,
	}
	if tif := stringParam(p, "time_in_force"); tif != "" {
		req.TimeInForce = alpaca.TimeInForce(strings.ToLower(tif))
	}

	switch strings.ToLower(stringParam(p, "type")) {
	case "", "market":
	case "limit":
		price, ok := floatParam(p, "limit_price")
		if !ok || price <= 0 {
			return req, apperrors.NewValidationError("limit_price", p["limit_price"], "must be positive for limit orders")
		}
		lp := decimal.NewFromFloat(price)
		req.Type = alpaca.Limit
		req.LimitPrice = &lp
	default:
		return req, apperrors.NewValidationError("type", p["type"], "must be market or limit")
	}
	return req, nil
}

// upstream turns an Alpaca SDK error into a RemoteCallError carrying the
// API's message.
func upstream[T any](op string, v T, err error) (any, error) {
	if err != nil {
		var apiErr *alpaca.APIError
		if apperrors.As(err, &apiErr) {
			return nil, apperrors.NewRemoteCallError("alpaca."+op, apiErr.StatusCode, apiErr.Message, err)
		}
		return nil, apperrors.NewRemoteCallError("alpaca."+op, 0, err.Error(), err)
	}
	return v, nil
}

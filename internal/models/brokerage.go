package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Brokerage status values. They are owned by the external brokerage and
// surfaced read-only.
const (
	StatusApproved  = "APPROVED"
	StatusActive    = "ACTIVE"
	StatusQueued    = "QUEUED"
	StatusPending   = "PENDING"
	StatusCancelled = "CANCELLED"
	StatusReturned  = "RETURNED"
	StatusComplete  = "COMPLETE"
	StatusSubmitted = "SUBMITTED"
)

// AccountStatus is the result of the getAccountStatus function.
type AccountStatus struct {
	HasAccount    bool   `json:"has_account"`
	Status        string `json:"status,omitempty"`
	AccountID     string `json:"account_id,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
}

// Approved reports whether the account can trade.
func (s AccountStatus) Approved() bool {
	return s.HasAccount && (s.Status == StatusApproved || s.Status == StatusActive)
}

// ACHRelationship is a bank link owned by the brokerage.
type ACHRelationship struct {
	ID                string `json:"id"`
	AccountID         string `json:"account_id,omitempty"`
	Status            string `json:"status"`
	AccountOwnerName  string `json:"account_owner_name,omitempty"`
	BankAccountType   string `json:"bank_account_type,omitempty"`
	BankAccountNumber string `json:"bank_account_number,omitempty"`
	BankRoutingNumber string `json:"bank_routing_number,omitempty"`
	Nickname          string `json:"nickname,omitempty"`
	CreatedAt         string `json:"created_at,omitempty"`
}

// TransferDirection is the money flow relative to the brokerage account.
type TransferDirection string

const (
	Incoming TransferDirection = "INCOMING"
	Outgoing TransferDirection = "OUTGOING"
)

// Valid reports whether d is a known direction.
func (d TransferDirection) Valid() bool {
	return d == Incoming || d == Outgoing
}

// Label returns the user-facing name of the direction.
func (d TransferDirection) Label() string {
	if d == Incoming {
		return "Deposit"
	}
	return "Withdrawal"
}

// Transfer is an ACH transfer owned by the brokerage.
type Transfer struct {
	ID             string            `json:"id"`
	RelationshipID string            `json:"relationship_id"`
	Amount         decimal.Decimal   `json:"amount"`
	Direction      TransferDirection `json:"direction"`
	Status         string            `json:"status"`
	Type           string            `json:"type,omitempty"`
	CreatedAt      string            `json:"created_at,omitempty"`
}

// Account is the brokerage trading account summary.
type Account struct {
	ID             string          `json:"id"`
	AccountNumber  string          `json:"account_number"`
	Status         string          `json:"status"`
	Currency       string          `json:"currency"`
	Cash           decimal.Decimal `json:"cash"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Equity         decimal.Decimal `json:"equity"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
}

// Position is an open brokerage position.
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	Side          string          `json:"side"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
}

// Order is a brokerage order.
type Order struct {
	ID          string           `json:"id"`
	Symbol      string           `json:"symbol"`
	Side        string           `json:"side"`
	Type        string           `json:"type"`
	Qty         *decimal.Decimal `json:"qty,omitempty"`
	LimitPrice  *decimal.Decimal `json:"limit_price,omitempty"`
	Status      string           `json:"status"`
	TimeInForce string           `json:"time_in_force"`
	SubmittedAt string           `json:"submitted_at,omitempty"`
	FilledQty   decimal.Decimal  `json:"filled_qty"`
}

// FunctionEnvelope is the {success, data, error} body every remote function
// returns.
type FunctionEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details string          `json:"details,omitempty"`
	Message string          `json:"message,omitempty"`
}

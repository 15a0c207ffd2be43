package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
)

// SandboxBrokerURL is the Alpaca Broker API sandbox.
const SandboxBrokerURL = "https://broker-api.sandbox.alpaca.markets"

// brokerageAccountRow links an application user to their brokerage account.
type brokerageAccountRow struct {
	UserID        string `gorm:"primaryKey;size:36"`
	AccountID     string `gorm:"size:64"`
	AccountNumber string `gorm:"size:64"`
	CreatedAt     time.Time
}

func (brokerageAccountRow) TableName() string { return "brokerage_accounts" }

// BrokerClient talks to the Alpaca Broker API, which the trading SDK does
// not cover.
type BrokerClient struct {
	base   string
	key    string
	secret string
	client *http.Client
}

// NewBrokerClient creates a BrokerClient. An empty base URL uses the sandbox.
func NewBrokerClient(baseURL, key, secret string) *BrokerClient {
	if baseURL == "" {
		baseURL = SandboxBrokerURL
	}
	return &BrokerClient{
		base:   strings.TrimRight(baseURL, "/"),
		key:    key,
		secret: secret,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *BrokerClient) do(ctx context.Context, method, op, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("building %s: %w", op, err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewRemoteCallError("broker."+op, 0, "", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewRemoteCallError("broker."+op, resp.StatusCode, "reading response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"message"`
		}
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Message != "" {
			msg = apiErr.Message
		}
		return apperrors.NewRemoteCallError("broker."+op, resp.StatusCode, msg, nil)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewRemoteCallError("broker."+op, resp.StatusCode, "malformed response", err)
	}
	return nil
}

// Brokerage implements alpacaBrokerage: one brokerage account per user.
type Brokerage struct {
	db     *gorm.DB
	broker *BrokerClient
	now    func() time.Time
}

// NewBrokerage creates the brokerage function backend.
func NewBrokerage(db *gorm.DB, broker *BrokerClient) *Brokerage {
	return &Brokerage{db: db, broker: broker, now: time.Now}
}

// Function returns the alpacaBrokerage dispatcher.
func (b *Brokerage) Function() Function {
	return Actions(gateway.FnAlpacaBrokerage, map[string]Function{
		gateway.ActionGetAccountStatus:      b.accountStatus,
		gateway.ActionCreateAccount:         b.createAccount,
		gateway.ActionGetACHRelationships:   b.withAccount(b.relationships),
		gateway.ActionCreateACHRelationship: b.withAccount(b.createRelationship),
		gateway.ActionDeleteACHRelationship: b.withAccount(b.deleteRelationship),
		gateway.ActionGetTransfers:          b.withAccount(b.transfers),
		gateway.ActionCreateTransfer:        b.withAccount(b.createTransfer),
	})
}

func (b *Brokerage) account(ctx context.Context, user *models.User) (*brokerageAccountRow, error) {
	if user == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	var row brokerageAccountRow
	err := b.db.WithContext(ctx).Where("user_id = ?", user.ID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewPersistenceError("BrokerageAccount", err)
	}
	return &row, nil
}

type accountFunc func(ctx context.Context, accountID string, call Call) (any, error)

func (b *Brokerage) withAccount(fn accountFunc) Function {
	return func(ctx context.Context, call Call) (any, error) {
		row, err := b.account(ctx, call.User)
		if err != nil {
			return nil, err
		}
		if row == nil {
			return nil, apperrors.Wrap(apperrors.ErrAccountNotReady, "no brokerage account")
		}
		return fn(ctx, row.AccountID, call)
	}
}

type brokerAccount struct {
	ID            string `json:"id"`
	AccountNumber string `json:"account_number"`
	Status        string `json:"status"`
}

func (b *Brokerage) accountStatus(ctx context.Context, call Call) (any, error) {
	row, err := b.account(ctx, call.User)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return models.AccountStatus{HasAccount: false}, nil
	}
	var acct brokerAccount
	if err := b.broker.do(ctx, http.MethodGet, "get_account", "/v1/accounts/"+url.PathEscape(row.AccountID), nil, &acct); err != nil {
		return nil, err
	}
	return models.AccountStatus{
		HasAccount:    true,
		Status:        acct.Status,
		AccountID:     acct.ID,
		AccountNumber: acct.AccountNumber,
	}, nil
}

func (b *Brokerage) createAccount(ctx context.Context, call Call) (any, error) {
	if call.User == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	existing, err := b.account(ctx, call.User)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, apperrors.NewValidationError("account", existing.AccountID, "a brokerage account already exists")
	}

	body, err := accountRequest(call.User, call.Payload, b.now().UTC())
	if err != nil {
		return nil, err
	}
	var acct brokerAccount
	if err := b.broker.do(ctx, http.MethodPost, "create_account", "/v1/accounts", body, &acct); err != nil {
		return nil, err
	}

	row := brokerageAccountRow{UserID: call.User.ID, AccountID: acct.ID, AccountNumber: acct.AccountNumber}
	if err := b.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, apperrors.NewPersistenceError("BrokerageAccount", err)
	}
	return Reply{
		Data:    map[string]string{"account_id": acct.ID, "account_number": acct.AccountNumber, "status": acct.Status},
		Message: "Account created successfully",
	}, nil
}

// accountRequest maps the flat onboarding payload onto the Broker API
// account document.
func accountRequest(user *models.User, p map[string]any, now time.Time) (map[string]any, error) {
	for _, key := range []string{"given_name", "family_name", "date_of_birth", "tax_id", "street_address", "city", "state", "postal_code", "phone_number"} {
		if _, err := requireString(p, key); err != nil {
			return nil, err
		}
	}
	signedAt := now.Format(time.RFC3339)
	ip := stringParam(p, "ip_address")
	if ip == "" {
		ip = "127.0.0.1"
	}
	agreement := func(name string) map[string]any {
		return map[string]any{"agreement": name, "signed_at": signedAt, "ip_address": ip}
	}
	fundingSource := stringsParam(p, "funding_source")
	if len(fundingSource) == 0 {
		fundingSource = []string{"employment_income"}
	}

	return map[string]any{
		"contact": map[string]any{
			"email_address":  user.Email,
			"phone_number":   stringParam(p, "phone_number"),
			"street_address": []string{stringParam(p, "street_address")},
			"city":           stringParam(p, "city"),
			"state":          stringParam(p, "state"),
			"postal_code":    stringParam(p, "postal_code"),
		},
		"identity": map[string]any{
			"given_name":               stringParam(p, "given_name"),
			"family_name":              stringParam(p, "family_name"),
			"date_of_birth":            stringParam(p, "date_of_birth"),
			"tax_id":                   stringParam(p, "tax_id"),
			"tax_id_type":              stringParam(p, "tax_id_type"),
			"country_of_citizenship":   stringParam(p, "country_of_citizenship"),
			"country_of_birth":         stringParam(p, "country_of_birth"),
			"country_of_tax_residence": stringParam(p, "country_of_tax_residence"),
			"funding_source":           fundingSource,
		},
		"disclosures": map[string]any{
			"is_control_person":               boolParam(p, "is_control_person"),
			"is_affiliated_exchange_or_finra": boolParam(p, "is_affiliated_exchange_or_finra"),
			"is_politically_exposed":          boolParam(p, "is_politically_exposed"),
			"immediate_family_exposed":        boolParam(p, "immediate_family_exposed"),
		},
		"agreements": []map[string]any{
			agreement("customer_agreement"),
			agreement("account_agreement"),
			agreement("margin_agreement"),
		},
	}, nil
}

func (b *Brokerage) relationships(ctx context.Context, accountID string, _ Call) (any, error) {
	var rels []models.ACHRelationship
	err := b.broker.do(ctx, http.MethodGet, "ach_relationships", "/v1/accounts/"+url.PathEscape(accountID)+"/ach_relationships", nil, &rels)
	return rels, err
}

func (b *Brokerage) createRelationship(ctx context.Context, accountID string, call Call) (any, error) {
	body := map[string]any{}
	for _, key := range []string{"account_owner_name", "bank_account_type", "bank_account_number", "bank_routing_number", "nickname"} {
		v, err := requireString(call.Payload, key)
		if err != nil {
			return nil, err
		}
		body[key] = v
	}
	var rel models.ACHRelationship
	err := b.broker.do(ctx, http.MethodPost, "create_ach_relationship", "/v1/accounts/"+url.PathEscape(accountID)+"/ach_relationships", body, &rel)
	return rel, err
}

func (b *Brokerage) deleteRelationship(ctx context.Context, accountID string, call Call) (any, error) {
	id, err := requireString(call.Payload, "relationship_id")
	if err != nil {
		return nil, err
	}
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/ach_relationships/" + url.PathEscape(id)
	if err := b.broker.do(ctx, http.MethodDelete, "delete_ach_relationship", path, nil, nil); err != nil {
		return nil, err
	}
	return Reply{Message: "Bank account unlinked"}, nil
}

func (b *Brokerage) transfers(ctx context.Context, accountID string, call Call) (any, error) {
	path := "/v1/accounts/" + url.PathEscape(accountID) + "/transfers"
	if limit, ok := floatParam(call.Payload, "limit"); ok && limit > 0 {
		path += "?limit=" + strconv.Itoa(int(limit))
	}
	var out []models.Transfer
	err := b.broker.do(ctx, http.MethodGet, "transfers", path, nil, &out)
	return out, err
}

func (b *Brokerage) createTransfer(ctx context.Context, accountID string, call Call) (any, error) {
	relID, err := requireString(call.Payload, "relationship_id")
	if err != nil {
		return nil, err
	}
	amount, ok := floatParam(call.Payload, "amount")
	if !ok || amount <= 0 {
		return nil, apperrors.NewValidationError("amount", call.Payload["amount"], "must be positive")
	}
	direction := models.TransferDirection(strings.ToUpper(stringParam(call.Payload, "direction")))
	if !direction.Valid() {
		return nil, apperrors.NewValidationError("direction", direction, "must be INCOMING or OUTGOING")
	}

	body := map[string]any{
		"transfer_type":   "ach",
		"relationship_id": relID,
		"amount":          stringParam(call.Payload, "amount"),
		"direction":       string(direction),
	}
	var t models.Transfer
	if err := b.broker.do(ctx, http.MethodPost, "create_transfer", "/v1/accounts/"+url.PathEscape(accountID)+"/transfers", body, &t); err != nil {
		return nil, err
	}
	return t, nil
}

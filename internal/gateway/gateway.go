// Package gateway defines the capability interfaces every workflow is built
// on: entity CRUD, authentication, remote functions and the LLM integration.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
)

// Record is an untyped entity as stored by the gateway.
type Record map[string]any

// ID returns the record's id, or "" when unset.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// ListOptions controls ordering and size of a list call. Sort uses the
// "-field" convention for descending order.
type ListOptions struct {
	Sort  string
	Limit int
}

// Entities is the typed-record CRUD capability.
type Entities interface {
	List(ctx context.Context, kind models.EntityKind, opts ListOptions) ([]Record, error)
	Create(ctx context.Context, kind models.EntityKind, fields Record) (Record, error)
	Update(ctx context.Context, kind models.EntityKind, id string, fields Record) (Record, error)
	Delete(ctx context.Context, kind models.EntityKind, id string) error
}

// Auth is the authentication capability.
type Auth interface {
	Me(ctx context.Context) (*models.User, error)
	IsAuthenticated(ctx context.Context) (bool, error)
	Login(ctx context.Context, email, password string) (string, error)
	Logout(ctx context.Context) error
	LoginURL(returnURL string) string
}

// FunctionResult is the raw {data} returned by a remote function.
type FunctionResult struct {
	Status int
	Data   json.RawMessage
}

// Functions is the generic RPC capability.
type Functions interface {
	Invoke(ctx context.Context, name string, payload any) (*FunctionResult, error)
}

// LLMRequest mirrors the InvokeLLM integration input.
type LLMRequest struct {
	Prompt                 string         `json:"prompt"`
	AddContextFromInternet bool           `json:"add_context_from_internet"`
	ResponseJSONSchema     map[string]any `json:"response_json_schema,omitempty"`
}

// LLM is the structured-output language model capability.
type LLM interface {
	InvokeLLM(ctx context.Context, req LLMRequest) (json.RawMessage, error)
}

// Gateway composes every capability.
type Gateway interface {
	Entities
	Auth
	Functions
	LLM
}

// Remote function names.
const (
	FnAlpacaBrokerage = "alpacaBrokerage"
	FnAlpacaTrading   = "alpacaTrading"
	FnMarketData      = "getMarketData"
	FnWelcomeEmail    = "sendWelcomeEmail"
)

// Actions understood by the brokerage and trading functions.
const (
	ActionGetAccountStatus      = "getAccountStatus"
	ActionCreateAccount         = "createAccount"
	ActionGetACHRelationships   = "getACHRelationships"
	ActionCreateACHRelationship = "createACHRelationship"
	ActionDeleteACHRelationship = "deleteACHRelationship"
	ActionGetTransfers          = "getTransfers"
	ActionCreateTransfer        = "createTransfer"

	ActionGetAccount    = "getAccount"
	ActionGetPositions  = "getPositions"
	ActionGetOrders     = "getOrders"
	ActionPlaceOrder    = "placeOrder"
	ActionClosePosition = "closePosition"
)

// Envelope parses the {success, data, error} body of a function result.
func (r *FunctionResult) Envelope() (models.FunctionEnvelope, error) {
	var env models.FunctionEnvelope
	if r == nil || len(r.Data) == 0 {
		return env, fmt.Errorf("empty function response")
	}
	if err := json.Unmarshal(r.Data, &env); err != nil {
		return env, fmt.Errorf("decoding function envelope: %w", err)
	}
	return env, nil
}

// Decode checks the envelope's success flag and decodes its payload into
// out. Functions that put their fields next to "success" instead of under
// "data" are decoded from the whole body.
func Decode(op string, r *FunctionResult, out any) error {
	env, err := r.Envelope()
	if err != nil {
		return apperrors.NewRemoteCallError(op, 0, "malformed response", err)
	}
	if !env.Success {
		return apperrors.NewRemoteCallError(op, r.Status, envelopeMessage(env), nil)
	}
	if out == nil {
		return nil
	}

	body := env.Data
	if len(body) == 0 || string(body) == "null" {
		body = r.Data
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewRemoteCallError(op, 0, "malformed response data", err)
	}
	return nil
}

func envelopeMessage(env models.FunctionEnvelope) string {
	switch {
	case env.Error != "":
		return env.Error
	case env.Details != "":
		return env.Details
	case env.Message != "":
		return env.Message
	default:
		return "unknown error occurred"
	}
}

// Call invokes a function with {action, ...params} and decodes the result.
func Call(ctx context.Context, fns Functions, name, action string, params map[string]any, out any) error {
	payload := make(map[string]any, len(params)+1)
	for k, v := range params {
		payload[k] = v
	}
	if action != "" {
		payload["action"] = action
	}

	op := name
	if action != "" {
		op = name + "." + action
	}

	res, err := fns.Invoke(ctx, name, payload)
	if err != nil {
		return err
	}
	return Decode(op, res, out)
}

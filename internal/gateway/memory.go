package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/models"
)

// TimestampLayout is the fixed-width layout of created_date and updated_date,
// so string order matches time order.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// FunctionHandler serves one remote function inside Memory. The returned
// value is encoded as the function's {data} body.
type FunctionHandler func(ctx context.Context, payload map[string]any) (any, error)

// LLMResponder answers InvokeLLM inside Memory.
type LLMResponder func(ctx context.Context, req LLMRequest) (json.RawMessage, error)

// Memory is an in-process Gateway. It backs tests and offline runs.
type Memory struct {
	mu        sync.RWMutex
	records   map[models.EntityKind][]Record
	seq       int
	user      *models.User
	password  string
	authed    bool
	functions map[string]FunctionHandler
	llm       LLMResponder
	now       func() time.Time

	invocations []string
	prompts     []LLMRequest

	// CreateHook runs before a record is stored; a non-nil error aborts the
	// create.
	CreateHook func(kind models.EntityKind, rec Record) error
}

// NewMemory creates an empty in-memory gateway.
func NewMemory() *Memory {
	return &Memory{
		records:   make(map[models.EntityKind][]Record),
		functions: make(map[string]FunctionHandler),
		now:       time.Now,
	}
}

// SetUser signs user in. A nil user signs out.
func (m *Memory) SetUser(user *models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.user = user
	m.authed = user != nil
}

// SetCredentials registers the password Login accepts for the current user.
func (m *Memory) SetCredentials(password string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.password = password
}

// HandleFunction registers a remote function handler.
func (m *Memory) HandleFunction(name string, h FunctionHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.functions[name] = h
}

// HandleLLM registers the InvokeLLM responder.
func (m *Memory) HandleLLM(r LLMResponder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.llm = r
}

// Invocations returns the "name.action" of every function call so far.
func (m *Memory) Invocations() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.invocations...)
}

// Prompts returns every LLM request received so far.
func (m *Memory) Prompts() []LLMRequest {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]LLMRequest(nil), m.prompts...)
}

// Count returns the number of stored records of kind.
func (m *Memory) Count(kind models.EntityKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[kind])
}

// List implements Entities.
func (m *Memory) List(ctx context.Context, kind models.EntityKind, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	recs := make([]Record, 0, len(m.records[kind]))
	for _, r := range m.records[kind] {
		recs = append(recs, cloneRecord(r))
	}
	m.mu.RUnlock()

	SortRecords(recs, opts.Sort)
	if opts.Limit > 0 && len(recs) > opts.Limit {
		recs = recs[:opts.Limit]
	}
	return recs, nil
}

// Create implements Entities.
func (m *Memory) Create(ctx context.Context, kind models.EntityKind, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, apperrors.NewRemoteCallError("entities/"+string(kind), 404, "unknown entity", apperrors.ErrNotFound)
	}
	if m.CreateHook != nil {
		if err := m.CreateHook(kind, fields); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	rec := cloneRecord(fields)
	ts := m.now().UTC().Format(TimestampLayout)
	rec["id"] = fmt.Sprintf("%s-%06d", strings.ToLower(string(kind)), m.seq)
	rec["created_date"] = ts
	rec["updated_date"] = ts
	if m.user != nil {
		rec["created_by"] = m.user.Email
	}
	m.records[kind] = append(m.records[kind], rec)
	return cloneRecord(rec), nil
}

// Update implements Entities.
func (m *Memory) Update(ctx context.Context, kind models.EntityKind, id string, fields Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, rec := range m.records[kind] {
		if rec.ID() != id {
			continue
		}
		for k, v := range fields {
			if k == "id" || k == "created_date" || k == "created_by" {
				continue
			}
			rec[k] = v
		}
		rec["updated_date"] = m.now().UTC().Format(TimestampLayout)
		m.records[kind][i] = rec
		return cloneRecord(rec), nil
	}
	return nil, apperrors.NewRemoteCallError("entities/"+string(kind)+"/"+id, 404, "not found", apperrors.ErrNotFound)
}

// Delete implements Entities.
func (m *Memory) Delete(ctx context.Context, kind models.EntityKind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	recs := m.records[kind]
	for i, rec := range recs {
		if rec.ID() == id {
			m.records[kind] = append(recs[:i], recs[i+1:]...)
			return nil
		}
	}
	return apperrors.NewRemoteCallError("entities/"+string(kind)+"/"+id, 404, "not found", apperrors.ErrNotFound)
}

// Me implements Auth.
func (m *Memory) Me(ctx context.Context) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.authed || m.user == nil {
		return nil, apperrors.NewRemoteCallError("auth/me", 401, "unauthorized", apperrors.ErrNotAuthenticated)
	}
	u := *m.user
	return &u, nil
}

// IsAuthenticated implements Auth.
func (m *Memory) IsAuthenticated(ctx context.Context) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.authed, nil
}

// Login implements Auth.
func (m *Memory) Login(ctx context.Context, email, password string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.user == nil || !strings.EqualFold(m.user.Email, email) || m.password != password {
		return "", apperrors.NewRemoteCallError("auth/login", 401, "invalid credentials", apperrors.ErrInvalidCredentials)
	}
	m.authed = true
	return "memory-token", nil
}

// Logout implements Auth.
func (m *Memory) Logout(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authed = false
	return nil
}

// LoginURL implements Auth.
func (m *Memory) LoginURL(returnURL string) string {
	return "memory://login?from_url=" + url.QueryEscape(returnURL)
}

// Invoke implements Functions.
func (m *Memory) Invoke(ctx context.Context, name string, payload any) (*FunctionResult, error) {
	params, err := toParams(payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	h, ok := m.functions[name]
	call := name
	if action, _ := params["action"].(string); action != "" {
		call += "." + action
	}
	m.invocations = append(m.invocations, call)
	m.mu.Unlock()

	if !ok {
		return nil, apperrors.NewRemoteCallError("functions/"+name, 404, "function not found", apperrors.ErrUnknownFunction)
	}

	out, err := h(ctx, params)
	if err != nil {
		return nil, apperrors.NewRemoteCallError("functions/"+call, 500, err.Error(), err)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encoding function result: %w", err)
	}
	return &FunctionResult{Status: 200, Data: data}, nil
}

// InvokeLLM implements LLM.
func (m *Memory) InvokeLLM(ctx context.Context, req LLMRequest) (json.RawMessage, error) {
	m.mu.Lock()
	r := m.llm
	m.prompts = append(m.prompts, req)
	m.mu.Unlock()

	if r == nil {
		return nil, apperrors.NewRemoteCallError("integrations/Core/InvokeLLM", 503, "no LLM configured", nil)
	}
	return r(ctx, req)
}

func toParams(payload any) (map[string]any, error) {
	if payload == nil {
		return map[string]any{}, nil
	}
	if p, ok := payload.(map[string]any); ok {
		return p, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	params := map[string]any{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("payload must be an object: %w", err)
	}
	return params, nil
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// SortRecords orders recs by the "-field" sort spec. Ties keep the most
// recently inserted record first for descending sorts.
func SortRecords(recs []Record, spec string) {
	if spec == "" {
		return
	}
	desc := strings.HasPrefix(spec, "-")
	field := strings.TrimPrefix(spec, "-")

	if desc {
		for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
			recs[i], recs[j] = recs[j], recs[i]
		}
	}
	sort.SliceStable(recs, func(i, j int) bool {
		c := compareValues(recs[i][field], recs[j][field])
		if desc {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok && av != bv {
			if !av {
				return -1
			}
			return 1
		}
		return 0
	}
	// Missing values sort first.
	switch {
	case a == nil && b != nil:
		return -1
	case a != nil && b == nil:
		return 1
	}
	return 0
}

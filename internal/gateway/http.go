package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/resilience"
)

// HTTPConfig configures an HTTPClient.
type HTTPConfig struct {
	BaseURL          string
	AppID            string
	Token            string
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
}

// HTTPClient is a Gateway backed by the REST surface served under
// /api/apps/{app}.
type HTTPClient struct {
	base    string
	appID   string
	client  *http.Client
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger

	mu    sync.RWMutex
	token string
}

// NewHTTPClient creates an HTTP gateway client.
func NewHTTPClient(cfg HTTPConfig, logger zerolog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	bcfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold > 0 {
		bcfg.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.Cooldown > 0 {
		bcfg.Cooldown = cfg.Cooldown
	}
	bcfg.IsFailure = isBackendFailure

	return &HTTPClient{
		base:    strings.TrimRight(cfg.BaseURL, "/"),
		appID:   cfg.AppID,
		client:  &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker("gateway", bcfg),
		logger:  logger.With().Str("component", "gateway").Logger(),
		token:   cfg.Token,
	}
}

// isBackendFailure counts transport errors and 5xx responses against the
// breaker. 4xx responses mean the backend is up.
func isBackendFailure(err error) bool {
	var rce *apperrors.RemoteCallError
	if apperrors.As(err, &rce) {
		return rce.Status == 0 || rce.Status >= 500
	}
	return !apperrors.Is(err, context.Canceled)
}

// Token returns the current bearer token.
func (c *HTTPClient) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// SetToken replaces the bearer token.
func (c *HTTPClient) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Breaker exposes the client's circuit breaker.
func (c *HTTPClient) Breaker() *resilience.CircuitBreaker {
	return c.breaker
}

func (c *HTTPClient) endpoint(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return fmt.Sprintf("%s/api/apps/%s/%s", c.base, url.PathEscape(c.appID), strings.Join(escaped, "/"))
}

// do sends body as JSON and decodes a 2xx response into out.
func (c *HTTPClient) do(ctx context.Context, method, op, endpoint string, body, out any) error {
	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.roundTrip(ctx, method, op, endpoint, body, out)
	})
	logging.LogRemoteCall(c.logger, method, op, time.Since(start), err)
	return err
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, op, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("building %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return apperrors.NewRemoteCallError(op, 0, "", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewRemoteCallError(op, resp.StatusCode, "reading response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if raw, ok := out.(*json.RawMessage); ok {
		*raw = append((*raw)[:0], data...)
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return apperrors.NewRemoteCallError(op, resp.StatusCode, "malformed response", err)
	}
	return nil
}

func statusError(op string, status int, body []byte) error {
	msg := errorMessage(body)
	switch status {
	case http.StatusUnauthorized:
		return apperrors.NewRemoteCallError(op, status, msg, apperrors.ErrNotAuthenticated)
	case http.StatusForbidden:
		return apperrors.NewPermissionError(op, models.RoleAdmin, "")
	case http.StatusNotFound:
		return apperrors.NewRemoteCallError(op, status, msg, apperrors.ErrNotFound)
	}
	return apperrors.NewRemoteCallError(op, status, msg, nil)
}

func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		if payload.Error != "" {
			return payload.Error
		}
		if payload.Message != "" {
			return payload.Message
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// List implements Entities.
func (c *HTTPClient) List(ctx context.Context, kind models.EntityKind, opts ListOptions) ([]Record, error) {
	endpoint := c.endpoint("entities", string(kind))
	q := url.Values{}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var out []Record
	if err := c.do(ctx, http.MethodGet, "entities/"+string(kind)+".list", endpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Create implements Entities.
func (c *HTTPClient) Create(ctx context.Context, kind models.EntityKind, fields Record) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPost, "entities/"+string(kind)+".create", c.endpoint("entities", string(kind)), fields, &out)
	return out, err
}

// Update implements Entities.
func (c *HTTPClient) Update(ctx context.Context, kind models.EntityKind, id string, fields Record) (Record, error) {
	var out Record
	err := c.do(ctx, http.MethodPut, "entities/"+string(kind)+".update", c.endpoint("entities", string(kind), id), fields, &out)
	return out, err
}

// Delete implements Entities.
func (c *HTTPClient) Delete(ctx context.Context, kind models.EntityKind, id string) error {
	return c.do(ctx, http.MethodDelete, "entities/"+string(kind)+".delete", c.endpoint("entities", string(kind), id), nil, nil)
}

// Me implements Auth.
func (c *HTTPClient) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "auth.me", c.endpoint("auth", "me"), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// IsAuthenticated implements Auth. A 401 from auth/me means false, not an
// error.
func (c *HTTPClient) IsAuthenticated(ctx context.Context) (bool, error) {
	if c.Token() == "" {
		return false, nil
	}
	_, err := c.Me(ctx)
	switch {
	case err == nil:
		return true, nil
	case apperrors.Is(err, apperrors.ErrNotAuthenticated):
		return false, nil
	default:
		return false, err
	}
}

// Login implements Auth. The returned token is also kept for later calls.
func (c *HTTPClient) Login(ctx context.Context, email, password string) (string, error) {
	body := map[string]string{"email": email, "password": password}
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, http.MethodPost, "auth.login", c.endpoint("auth", "login"), body, &out); err != nil {
		if apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			return "", apperrors.Wrap(apperrors.ErrInvalidCredentials, email)
		}
		return "", err
	}
	c.SetToken(out.Token)
	return out.Token, nil
}

// Register creates a user account on the self-hosted backend. It does not
// log in.
func (c *HTTPClient) Register(ctx context.Context, email, fullName, password string) (*models.User, error) {
	body := map[string]string{"email": email, "full_name": fullName, "password": password}
	var u models.User
	if err := c.do(ctx, http.MethodPost, "auth.register", c.endpoint("auth", "register"), body, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Logout implements Auth.
func (c *HTTPClient) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "auth.logout", c.endpoint("auth", "logout"), nil, nil)
	c.SetToken("")
	if apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		return nil
	}
	return err
}

// LoginURL implements Auth.
func (c *HTTPClient) LoginURL(returnURL string) string {
	return c.base + "/login?from_url=" + url.QueryEscape(returnURL)
}

// Invoke implements Functions. Non-2xx responses that still carry an
// envelope are returned as results so the caller sees the function's error
// text.
func (c *HTTPClient) Invoke(ctx context.Context, name string, payload any) (*FunctionResult, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	var raw json.RawMessage
	err := c.do(ctx, http.MethodPost, "functions/"+name, c.endpoint("functions", name), payload, &raw)
	if err != nil {
		var rce *apperrors.RemoteCallError
		if apperrors.As(err, &rce) && rce.Status == http.StatusBadRequest {
			return &FunctionResult{Status: rce.Status, Data: json.RawMessage(`{"success":false,"error":` + strconv.Quote(rce.Message) + `}`)}, nil
		}
		return nil, err
	}
	return &FunctionResult{Status: http.StatusOK, Data: raw}, nil
}

// InvokeLLM implements LLM.
func (c *HTTPClient) InvokeLLM(ctx context.Context, req LLMRequest) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.do(ctx, http.MethodPost, "integrations/Core/InvokeLLM", c.endpoint("integrations", "Core", "InvokeLLM"), req, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

var _ Gateway = (*HTTPClient)(nil)
var _ Gateway = (*Memory)(nil)

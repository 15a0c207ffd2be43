package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"algotrader/internal/backend"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
	"algotrader/internal/resilience"
)

const appID = "algotrader"

type stubCompleter struct{}

func (stubCompleter) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return openai.ChatCompletionResponse{Choices: []openai.ChatCompletionChoice{
		{Message: openai.ChatCompletionMessage{Content: `{"signals":[{"symbol":"AAPL"}]}`}},
	}}, nil
}

type stubMailer struct{ sent []string }

func (m *stubMailer) SendTo(ctx context.Context, to, subject, body string) error {
	m.sent = append(m.sent, to)
	return nil
}

type fixture struct {
	backend *backend.Backend
	url     string
	mailer  *stubMailer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b, err := backend.Open(backend.Options{
		DatabasePath: filepath.Join(t.TempDir(), "server.db"),
		JWTSecret:    "server-test",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("backend.Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })

	mailer := &stubMailer{}
	b.Install(backend.Services{Mailer: mailer, LLM: backend.NewLLM(stubCompleter{}, "")})
	b.Functions.Register("echo", func(ctx context.Context, call backend.Call) (any, error) {
		if call.Payload["fail"] == true {
			return nil, apperrors.NewValidationError("fail", true, "was requested")
		}
		return backend.Reply{Data: call.Payload, Message: "hello " + call.User.Email}, nil
	})

	ctx := context.Background()
	if _, err := b.Auth.Register(ctx, "ada@example.com", "Ada", "correct horse", models.RoleUser); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Auth.EnsureAdmin(ctx, "root@example.com", "super secret"); err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(New(b, Config{AppID: appID, Mode: gin.TestMode}, zerolog.Nop()).Handler())
	t.Cleanup(srv.Close)
	return &fixture{backend: b, url: srv.URL, mailer: mailer}
}

func (f *fixture) client(t *testing.T, email, password string) *gateway.HTTPClient {
	t.Helper()
	c := gateway.NewHTTPClient(gateway.HTTPConfig{BaseURL: f.url, AppID: appID}, zerolog.Nop())
	if email != "" {
		if _, err := c.Login(context.Background(), email, password); err != nil {
			t.Fatalf("Login(%s): %v", email, err)
		}
	}
	return c
}

func TestAuthRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "", "")

	if ok, err := c.IsAuthenticated(ctx); ok || err != nil {
		t.Errorf("anonymous IsAuthenticated = %v, %v", ok, err)
	}
	if _, err := c.Login(ctx, "ada@example.com", "nope"); !errors.Is(err, apperrors.ErrInvalidCredentials) {
		t.Errorf("bad login err = %v", err)
	}

	token, err := c.Login(ctx, "ada@example.com", "correct horse")
	if err != nil || token == "" {
		t.Fatalf("Login = %q, %v", token, err)
	}
	me, err := c.Me(ctx)
	if err != nil || me.Email != "ada@example.com" || me.IsAdmin() {
		t.Fatalf("Me = %+v, %v", me, err)
	}

	if err := c.Logout(ctx); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	c.SetToken(token)
	if _, err := c.Me(ctx); !errors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("Me after logout err = %v", err)
	}
}

func TestRegisterRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.client(t, "", "")

	u, err := c.Register(ctx, "grace@example.com", "Grace Hopper", "cobol forever")
	if err != nil || u.Email != "grace@example.com" || u.Role != models.RoleUser {
		t.Fatalf("Register = %+v, %v", u, err)
	}
	if _, err := c.Register(ctx, "grace@example.com", "Again", "cobol forever"); err == nil {
		t.Error("duplicate register succeeded")
	}
	if _, err := c.Register(ctx, "grace2@example.com", "", "short"); err == nil {
		t.Error("short password accepted")
	}
	if _, err := c.Login(ctx, "grace@example.com", "cobol forever"); err != nil {
		t.Errorf("Login after register: %v", err)
	}
}

func TestEntitiesRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.client(t, "ada@example.com", "correct horse")
	root := f.client(t, "root@example.com", "super secret")

	strategy := models.Strategy{Name: "Momentum", StrategyType: "momentum"}
	strategy.SetActive(true)
	created, err := gateway.Strategies(ada).Create(ctx, strategy)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.ID == "" || created.Name != "Momentum" {
		t.Fatalf("created = %+v", created)
	}

	recs, err := root.List(ctx, models.KindStrategy, gateway.ListOptions{})
	if err != nil || len(recs) != 0 {
		t.Errorf("other user's strategies visible: %v, %v", recs, err)
	}

	updated, err := ada.Update(ctx, models.KindStrategy, created.ID, gateway.Record{"is_active": false})
	if err != nil || updated["is_active"] != false || updated["name"] != "Momentum" {
		t.Fatalf("Update = %v, %v", updated, err)
	}

	list, err := gateway.Strategies(ada).List(ctx, gateway.ListOptions{Sort: "-created_date", Limit: 10})
	if err != nil || len(list) != 1 || list[0].Active() {
		t.Fatalf("List = %+v, %v", list, err)
	}

	if err := ada.Delete(ctx, models.KindStrategy, created.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := ada.Delete(ctx, models.KindStrategy, created.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
	if _, err := ada.List(ctx, "Invoice", gateway.ListOptions{}); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown kind err = %v", err)
	}
}

func TestUsersAdminOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	users, err := gateway.Users(f.client(t, "root@example.com", "super secret")).List(ctx, gateway.ListOptions{Sort: "email"})
	if err != nil || len(users) != 2 || users[0].Email != "ada@example.com" {
		t.Fatalf("admin Users = %+v, %v", users, err)
	}

	_, err = f.client(t, "ada@example.com", "correct horse").List(ctx, models.KindUser, gateway.ListOptions{})
	if apperrors.Classify(err) != apperrors.KindPermission {
		t.Errorf("non-admin Users err = %v", err)
	}
}

func TestFunctionsRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	ada := f.client(t, "ada@example.com", "correct horse")

	res, err := ada.Invoke(ctx, "echo", map[string]any{"symbol": "AAPL"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	env, _ := res.Envelope()
	if env.Message != "hello ada@example.com" {
		t.Errorf("message = %q", env.Message)
	}
	var out struct {
		Symbol string `json:"symbol"`
	}
	if err := gateway.Decode("echo", res, &out); err != nil || out.Symbol != "AAPL" {
		t.Errorf("Decode = %+v, %v", out, err)
	}

	res, err = ada.Invoke(ctx, "echo", map[string]any{"fail": true})
	if err != nil || res.Status != http.StatusBadRequest {
		t.Fatalf("failing Invoke = %+v, %v", res, err)
	}
	var rce *apperrors.RemoteCallError
	if err := gateway.Decode("echo", res, nil); !errors.As(err, &rce) || rce.Message == "" {
		t.Errorf("Decode of failure = %v", err)
	}

	if _, err := ada.Invoke(ctx, "missing", nil); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown function err = %v", err)
	}

	_, err = ada.Invoke(ctx, gateway.FnWelcomeEmail, map[string]any{"to_email": "grace@example.com"})
	if apperrors.Classify(err) != apperrors.KindPermission {
		t.Errorf("non-admin welcome email err = %v", err)
	}
	root := f.client(t, "root@example.com", "super secret")
	res, err = root.Invoke(ctx, gateway.FnWelcomeEmail, map[string]any{"to_email": "grace@example.com", "to_name": "Grace"})
	if err != nil || gateway.Decode("welcome", res, nil) != nil {
		t.Fatalf("admin welcome email = %+v, %v", res, err)
	}
	if len(f.mailer.sent) != 1 || f.mailer.sent[0] != "grace@example.com" {
		t.Errorf("sent = %v", f.mailer.sent)
	}
}

func TestInvokeLLMRoundTrip(t *testing.T) {
	f := newFixture(t)
	ada := f.client(t, "ada@example.com", "correct horse")

	raw, err := ada.InvokeLLM(context.Background(), gateway.LLMRequest{Prompt: "signals please"})
	if err != nil {
		t.Fatalf("InvokeLLM: %v", err)
	}
	if string(raw) != `{"signals":[{"symbol":"AAPL"}]}` {
		t.Errorf("raw = %s", raw)
	}
}

func TestUnknownAppAndMissingToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	other := gateway.NewHTTPClient(gateway.HTTPConfig{BaseURL: f.url, AppID: "someone-else"}, zerolog.Nop())
	if _, err := other.Login(ctx, "ada@example.com", "correct horse"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("unknown app err = %v", err)
	}

	anon := f.client(t, "", "")
	if _, err := anon.List(ctx, models.KindStrategy, gateway.ListOptions{}); !errors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("anonymous list err = %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrNotAuthenticated, http.StatusUnauthorized},
		{apperrors.ErrInvalidCredentials, http.StatusUnauthorized},
		{apperrors.NewPermissionError("op", models.RoleAdmin, models.RoleUser), http.StatusForbidden},
		{apperrors.Wrap(apperrors.ErrNotFound, "Strategy 1"), http.StatusNotFound},
		{apperrors.NewValidationError("limit", "x", "bad"), http.StatusBadRequest},
		{apperrors.NewRemoteCallError("llm", http.StatusServiceUnavailable, "no LLM configured", nil), http.StatusServiceUnavailable},
		{apperrors.NewRemoteCallError("openai.chat", 0, "boom", nil), http.StatusBadGateway},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestHealthEndpoints(t *testing.T) {
	f := newFixture(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(f.url + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}

	resp, err := http.Get(f.url + "/health?refresh=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var health resilience.SystemHealth
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	got := map[string]resilience.HealthStatus{}
	for _, c := range health.Components {
		got[c.Name] = c.Status
	}
	if got["database"] != resilience.HealthStatusHealthy || got["functions"] != resilience.HealthStatusHealthy || got["llm"] != resilience.HealthStatusHealthy {
		t.Errorf("components = %v", got)
	}
}

func TestReadyzFailsWithClosedDatabase(t *testing.T) {
	b, err := backend.Open(backend.Options{
		DatabasePath: filepath.Join(t.TempDir(), "closed.db"),
		JWTSecret:    "server-test",
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := New(b, Config{AppID: appID, Mode: gin.TestMode}, zerolog.Nop())
	_ = b.Close()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestLoginRateLimited(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	srv := New(f.backend, Config{AppID: appID, Mode: gin.TestMode, LoginPerMinute: 6, LoginBurst: 2, Now: func() time.Time { return now }}, zerolog.Nop())

	login := func() *httptest.ResponseRecorder {
		body := strings.NewReader(`{"email":"ada@example.com","password":"wrong"}`)
		req := httptest.NewRequest(http.MethodPost, "/api/apps/"+appID+"/auth/login", body)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := login(); rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d = %d, want 401", i+1, rec.Code)
		}
	}
	rec := login()
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "10" {
		t.Fatalf("third attempt = %d retry-after %q", rec.Code, rec.Header().Get("Retry-After"))
	}

	now = now.Add(10 * time.Second)
	if rec := login(); rec.Code != http.StatusUnauthorized {
		t.Errorf("after refill = %d, want 401", rec.Code)
	}
}

func TestRateLimiterPrune(t *testing.T) {
	now := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	l := newRateLimiter(60, 1, func() time.Time { return now })
	l.allow("10.0.0.1")
	now = now.Add(2 * time.Hour)
	l.allow("10.0.0.2")
	l.prune(time.Hour)
	if _, ok := l.buckets["10.0.0.1"]; ok {
		t.Error("idle bucket kept")
	}
	if _, ok := l.buckets["10.0.0.2"]; !ok {
		t.Error("active bucket pruned")
	}
}

package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"algotrader/internal/poller"
)

func fixed(status HealthStatus) HealthCheck {
	return func(context.Context) ComponentHealth {
		return ComponentHealth{Status: status, Message: string(status)}
	}
}

func newTestMonitor(clock poller.Clock) *HealthMonitor {
	return NewHealthMonitor(HealthMonitorConfig{CheckTimeout: time.Second, Clock: clock})
}

func TestHealthMonitor_OverallIsWorstComponent(t *testing.T) {
	tests := []struct {
		name     string
		statuses []HealthStatus
		want     HealthStatus
		ready    bool
	}{
		{"all healthy", []HealthStatus{HealthStatusHealthy, HealthStatusHealthy}, HealthStatusHealthy, true},
		{"one degraded", []HealthStatus{HealthStatusHealthy, HealthStatusDegraded}, HealthStatusDegraded, true},
		{"one unhealthy", []HealthStatus{HealthStatusDegraded, HealthStatusUnhealthy}, HealthStatusUnhealthy, false},
		{"unknown", []HealthStatus{HealthStatusHealthy, HealthStatusUnknown}, HealthStatusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestMonitor(nil)
			for i, st := range tt.statuses {
				m.RegisterComponent(string(rune('a'+i)), fixed(st))
			}
			h := m.Check(context.Background())
			if h.Status != tt.want {
				t.Errorf("Status = %s, want %s", h.Status, tt.want)
			}
			if m.IsReady() != tt.ready {
				t.Errorf("IsReady = %v, want %v", m.IsReady(), tt.ready)
			}
			if len(h.Components) != len(tt.statuses) || h.Components[0].Name != "a" {
				t.Errorf("Components = %+v", h.Components)
			}
		})
	}
}

func TestHealthMonitor_NotReadyBeforeFirstRun(t *testing.T) {
	m := newTestMonitor(nil)
	if m.IsReady() {
		t.Error("IsReady before any check")
	}
	if h := m.Health(); h.Status != HealthStatusUnknown || h.TotalChecks != 0 {
		t.Errorf("Health = %+v", h)
	}
}

func TestHealthMonitor_PanickingCheckIsUnhealthy(t *testing.T) {
	m := newTestMonitor(nil)
	m.RegisterComponent("ok", fixed(HealthStatusHealthy))
	m.RegisterComponent("boom", func(context.Context) ComponentHealth { panic("kaboom") })

	h := m.Check(context.Background())
	if h.Status != HealthStatusUnhealthy {
		t.Fatalf("Status = %s", h.Status)
	}
	for _, c := range h.Components {
		if c.Name == "boom" && c.Message != "check panicked: kaboom" {
			t.Errorf("boom message = %q", c.Message)
		}
	}
	if h.FailedChecks != 1 {
		t.Errorf("FailedChecks = %d", h.FailedChecks)
	}
}

func TestHealthMonitor_AlertsOnTransitionOnly(t *testing.T) {
	m := newTestMonitor(nil)
	var mu sync.Mutex
	status := HealthStatusUnhealthy
	m.RegisterComponent("db", func(context.Context) ComponentHealth {
		mu.Lock()
		defer mu.Unlock()
		return ComponentHealth{Status: status}
	})
	var alerts []HealthAlert
	m.SetAlertCallback(func(a HealthAlert) { alerts = append(alerts, a) })

	ctx := context.Background()
	m.Check(ctx)
	m.Check(ctx)
	if len(alerts) != 1 || alerts[0].Component != "db" {
		t.Fatalf("alerts after two failing runs = %+v", alerts)
	}

	mu.Lock()
	status = HealthStatusHealthy
	mu.Unlock()
	m.Check(ctx)
	mu.Lock()
	status = HealthStatusUnhealthy
	mu.Unlock()
	m.Check(ctx)
	if len(alerts) != 2 {
		t.Errorf("alerts after recovery and relapse = %d, want 2", len(alerts))
	}
}

func TestHealthMonitor_StartRunsOnSchedule(t *testing.T) {
	clock := poller.NewFakeClock(time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC))
	m := newTestMonitor(clock)
	m.RegisterComponent("ok", fixed(HealthStatusHealthy))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := m.Start(ctx, time.Minute)

	clock.BlockUntil(1)
	if got := m.Health().TotalChecks; got != 1 {
		t.Fatalf("TotalChecks after start = %d, want 1", got)
	}
	clock.Advance(time.Minute)
	clock.BlockUntil(1)
	if got := m.Health().TotalChecks; got != 2 {
		t.Errorf("TotalChecks after one interval = %d, want 2", got)
	}

	h.Stop()
	if up := m.Health().Uptime; up != "1m0s" {
		t.Errorf("Uptime = %q", up)
	}
}

func TestDatabaseHealthCheck(t *testing.T) {
	ok := DatabaseHealthCheck(func(context.Context) error { return nil })(context.Background())
	if ok.Status != HealthStatusHealthy {
		t.Errorf("ok ping = %+v", ok)
	}
	bad := DatabaseHealthCheck(func(context.Context) error { return errors.New("closed") })(context.Background())
	if bad.Status != HealthStatusUnhealthy || bad.Message != "Database ping failed: closed" {
		t.Errorf("failed ping = %+v", bad)
	}
}

func TestConfiguredCheck(t *testing.T) {
	on := ConfiguredCheck("LLM", func() bool { return true })(context.Background())
	off := ConfiguredCheck("LLM", func() bool { return false })(context.Background())
	if on.Status != HealthStatusHealthy || off.Status != HealthStatusDegraded || off.Message != "LLM not configured" {
		t.Errorf("on = %+v, off = %+v", on, off)
	}
}

package resilience

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"algotrader/internal/poller"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "HEALTHY"
	HealthStatusDegraded  HealthStatus = "DEGRADED"
	HealthStatusUnhealthy HealthStatus = "UNHEALTHY"
	HealthStatusUnknown   HealthStatus = "UNKNOWN"
)

// worse reports whether a is a worse status than b.
func worse(a, b HealthStatus) bool {
	rank := map[HealthStatus]int{
		HealthStatusHealthy:   0,
		HealthStatusUnknown:   1,
		HealthStatusDegraded:  2,
		HealthStatusUnhealthy: 3,
	}
	return rank[a] > rank[b]
}

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string         `json:"name"`
	Status    HealthStatus   `json:"status"`
	Message   string         `json:"message,omitempty"`
	LastCheck time.Time      `json:"last_check"`
	Latency   time.Duration  `json:"latency_ns"`
	Details   map[string]any `json:"details,omitempty"`
}

// HealthCheck reports the health of one component.
type HealthCheck func(ctx context.Context) ComponentHealth

// HealthAlert is raised when a component turns unhealthy or a check panics.
type HealthAlert struct {
	Component string       `json:"component"`
	Status    HealthStatus `json:"status"`
	Message   string       `json:"message"`
	Timestamp time.Time    `json:"timestamp"`
}

// HealthMonitorConfig holds health monitor configuration.
type HealthMonitorConfig struct {
	CheckTimeout       time.Duration
	MemoryThresholdMB  uint64
	GoroutineThreshold int
	Clock              poller.Clock
}

// DefaultHealthMonitorConfig returns default configuration.
func DefaultHealthMonitorConfig() HealthMonitorConfig {
	return HealthMonitorConfig{
		CheckTimeout:       5 * time.Second,
		MemoryThresholdMB:  500,
		GoroutineThreshold: 1000,
	}
}

// HealthMonitor runs registered checks, alone or on a schedule, and keeps
// the latest result of each.
type HealthMonitor struct {
	cfg       HealthMonitorConfig
	startTime time.Time

	mu           sync.RWMutex
	checks       map[string]HealthCheck
	results      map[string]ComponentHealth
	overall      HealthStatus
	totalChecks  int64
	failedChecks int64
	onAlert      func(HealthAlert)
}

// NewHealthMonitor creates a monitor with the memory and goroutine checks
// already registered.
func NewHealthMonitor(cfg HealthMonitorConfig) *HealthMonitor {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = DefaultHealthMonitorConfig().CheckTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = poller.RealClock()
	}
	m := &HealthMonitor{
		cfg:       cfg,
		startTime: cfg.Clock.Now(),
		checks:    make(map[string]HealthCheck),
		results:   make(map[string]ComponentHealth),
		overall:   HealthStatusUnknown,
	}
	if cfg.MemoryThresholdMB > 0 {
		m.checks["memory"] = MemoryHealthCheck(cfg.MemoryThresholdMB)
	}
	if cfg.GoroutineThreshold > 0 {
		m.checks["goroutines"] = GoroutineHealthCheck(cfg.GoroutineThreshold)
	}
	return m
}

// RegisterComponent registers a health check for a component.
func (m *HealthMonitor) RegisterComponent(name string, check HealthCheck) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// SetAlertCallback sets the callback for health alerts.
func (m *HealthMonitor) SetAlertCallback(callback func(HealthAlert)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAlert = callback
}

// Start re-runs the checks every interval until ctx is cancelled.
func (m *HealthMonitor) Start(ctx context.Context, interval time.Duration) *poller.Handle {
	return poller.Every(ctx, interval, func(ctx context.Context) {
		m.Check(ctx)
	}, poller.Immediate(), poller.WithClock(m.cfg.Clock), poller.Named("health-checks"))
}

// Check runs every registered check concurrently and returns the new
// system health. A panicking check is reported unhealthy.
func (m *HealthMonitor) Check(ctx context.Context) SystemHealth {
	m.mu.RLock()
	checks := make(map[string]HealthCheck, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.cfg.CheckTimeout)
	defer cancel()

	var (
		wg      conc.WaitGroup
		resMu   sync.Mutex
		results = make([]ComponentHealth, 0, len(checks))
	)
	for name, check := range checks {
		name, check := name, check
		wg.Go(func() {
			start := m.cfg.Clock.Now()
			var h ComponentHealth
			var pc panics.Catcher
			pc.Try(func() { h = check(ctx) })
			if r := pc.Recovered(); r != nil {
				h = ComponentHealth{
					Status:  HealthStatusUnhealthy,
					Message: fmt.Sprintf("check panicked: %v", r.Value),
				}
			}
			h.Name = name
			h.LastCheck = m.cfg.Clock.Now()
			if h.Latency == 0 {
				h.Latency = h.LastCheck.Sub(start)
			}
			resMu.Lock()
			results = append(results, h)
			resMu.Unlock()
		})
	}
	wg.Wait()

	m.mu.Lock()
	m.totalChecks++
	overall := HealthStatusHealthy
	var alerts []HealthAlert
	for _, h := range results {
		prev, seen := m.results[h.Name]
		m.results[h.Name] = h
		if worse(h.Status, overall) {
			overall = h.Status
		}
		if h.Status == HealthStatusUnhealthy {
			m.failedChecks++
			if !seen || prev.Status != HealthStatusUnhealthy {
				alerts = append(alerts, HealthAlert{
					Component: h.Name,
					Status:    h.Status,
					Message:   h.Message,
					Timestamp: h.LastCheck,
				})
			}
		}
	}
	m.overall = overall
	onAlert := m.onAlert
	m.mu.Unlock()

	if onAlert != nil {
		for _, a := range alerts {
			onAlert(a)
		}
	}
	return m.Health()
}

// Health returns the results of the last check run.
func (m *HealthMonitor) Health() SystemHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make([]ComponentHealth, 0, len(m.results))
	for _, h := range m.results {
		components = append(components, h)
	}
	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	now := m.cfg.Clock.Now()
	return SystemHealth{
		Status:       m.overall,
		Uptime:       now.Sub(m.startTime).Round(time.Second).String(),
		StartTime:    m.startTime,
		Components:   components,
		TotalChecks:  m.totalChecks,
		FailedChecks: m.failedChecks,
	}
}

// IsReady reports whether the last run found nothing unhealthy. A monitor
// that never ran is not ready.
func (m *HealthMonitor) IsReady() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.overall == HealthStatusHealthy || m.overall == HealthStatusDegraded
}

// SystemHealth represents overall system health.
type SystemHealth struct {
	Status       HealthStatus      `json:"status"`
	Uptime       string            `json:"uptime"`
	StartTime    time.Time         `json:"start_time"`
	Components   []ComponentHealth `json:"components"`
	TotalChecks  int64             `json:"total_checks"`
	FailedChecks int64             `json:"failed_checks"`
}

// MemoryHealthCheck degrades above thresholdMB of heap.
func MemoryHealthCheck(thresholdMB uint64) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)
		allocMB := ms.Alloc / 1024 / 1024
		h := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("Memory usage: %d MB", allocMB),
			Details: map[string]any{
				"alloc_mb": allocMB,
				"sys_mb":   ms.Sys / 1024 / 1024,
				"num_gc":   ms.NumGC,
			},
		}
		if allocMB > thresholdMB {
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("Memory usage high: %d MB", allocMB)
		}
		return h
	}
}

// GoroutineHealthCheck degrades above threshold goroutines.
func GoroutineHealthCheck(threshold int) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		n := runtime.NumGoroutine()
		h := ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: fmt.Sprintf("Goroutine count: %d", n),
			Details: map[string]any{"count": n},
		}
		if n > threshold {
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("High goroutine count: %d", n)
		}
		return h
	}
}

// DatabaseHealthCheck pings a database. Slow pings degrade.
func DatabaseHealthCheck(ping func(ctx context.Context) error) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{Latency: time.Since(start)}
		switch {
		case err != nil:
			h.Status = HealthStatusUnhealthy
			h.Message = fmt.Sprintf("Database ping failed: %v", err)
		case h.Latency > 100*time.Millisecond:
			h.Status = HealthStatusDegraded
			h.Message = fmt.Sprintf("Database slow: %v", h.Latency)
		default:
			h.Status = HealthStatusHealthy
			h.Message = "Database reachable"
		}
		return h
	}
}

// ConfiguredCheck is healthy when configured reports true and degraded
// otherwise. It suits optional integrations that run fine without.
func ConfiguredCheck(what string, configured func() bool) HealthCheck {
	return func(ctx context.Context) ComponentHealth {
		if configured() {
			return ComponentHealth{Status: HealthStatusHealthy, Message: what + " configured"}
		}
		return ComponentHealth{Status: HealthStatusDegraded, Message: what + " not configured"}
	}
}

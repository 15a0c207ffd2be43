// Package store keeps the local history of workflow runs and a cache of the
// last market quotes seen.
package store

import (
	"context"
	"time"

	"algotrader/internal/models"
)

// RunKind identifies the workflow a run belongs to.
type RunKind string

const (
	RunBacktest  RunKind = "backtest"
	RunSignal    RunKind = "signal"
	RunDiscovery RunKind = "discovery"
)

// RunStatus is the outcome of a run.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one workflow execution for one strategy.
type Run struct {
	ID           string    `json:"id"`
	Kind         RunKind   `json:"kind"`
	StrategyID   string    `json:"strategy_id,omitempty"`
	StrategyName string    `json:"strategy_name"`
	RemoteID     string    `json:"remote_id,omitempty"`
	Status       RunStatus `json:"status"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	TotalReturn  float64   `json:"total_return,omitempty"`
	SharpeRatio  float64   `json:"sharpe_ratio,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}

// Duration returns how long the run took.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunStore defines the interface for run history persistence.
type RunStore interface {
	// Runs
	RecordRun(ctx context.Context, run Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]Run, error)
	GetRunStats(ctx context.Context, kind RunKind) (*RunStats, error)

	// Quotes
	SaveQuotes(ctx context.Context, quotes []models.Quote, at time.Time) error
	GetQuotes(ctx context.Context, symbols []string) ([]CachedQuote, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// RunFilter represents filters for querying runs.
type RunFilter struct {
	Kind       RunKind
	Status     RunStatus
	StrategyID string
	Since      time.Time
	Limit      int
}

// RunStats aggregates the runs of one kind.
type RunStats struct {
	Total       int            `json:"total"`
	Succeeded   int            `json:"succeeded"`
	Failed      int            `json:"failed"`
	ByErrorKind map[string]int `json:"by_error_kind"`
	AvgReturn   float64        `json:"avg_return"`
	BestReturn  float64        `json:"best_return"`
	BestRunID   string         `json:"best_run_id,omitempty"`
}

// SuccessRate returns the share of succeeded runs in percent.
func (s RunStats) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

// CachedQuote is a stored quote with the time it was fetched.
type CachedQuote struct {
	models.Quote
	FetchedAt time.Time `json:"fetched_at"`
}

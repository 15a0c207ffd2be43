package workflow

import (
	"context"
	"fmt"

	"github.com/sourcegraph/conc/pool"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/notify"
)

// FailedStrategy is one entry of a batch's failed list.
type FailedStrategy struct {
	Name       string `json:"name"`
	StrategyID string `json:"strategy_id,omitempty"`
	Error      error  `json:"-"`
	Message    string `json:"error"`
}

// BatchReport collects the outcome of running one workflow over many
// strategies. Succeeded and Failed keep input order.
type BatchReport[T any] struct {
	Operation string           `json:"operation"`
	Total     int              `json:"total"`
	Succeeded []T              `json:"succeeded"`
	Failed    []FailedStrategy `json:"failed"`

	verb string
}

// Partial reports whether some, but not all, strategies failed.
func (r *BatchReport[T]) Partial() bool {
	return len(r.Succeeded) > 0 && len(r.Failed) > 0
}

// Warning returns the partial-failure message, or "" when nothing failed.
func (r *BatchReport[T]) Warning() string {
	switch n := len(r.Failed); n {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("1 strategy failed to %s", r.verb)
	default:
		return fmt.Sprintf("%d strategies failed to %s", n, r.verb)
	}
}

func (r *BatchReport[T]) summary() notify.BatchSummary {
	sum := notify.BatchSummary{Operation: r.Operation, Failed: make([]notify.BatchFailure, 0, len(r.Failed))}
	for _, f := range r.Failed {
		sum.Failed = append(sum.Failed, notify.BatchFailure{Name: f.Name, Message: f.Message})
	}
	return sum
}

type outcome[T any] struct {
	value T
	err   error
}

// runBatch applies fn to every active strategy. A failing strategy is put on
// the failed list and the batch moves on; only when every strategy fails
// does the batch itself fail with ErrAllFailed.
func runBatch[T any](ctx context.Context, s *Service, operation, verb string, strategies []models.Strategy, name func(T) string, fn func(context.Context, models.Strategy) (T, error)) (*BatchReport[T], error) {
	active := models.ActiveStrategies(strategies)
	if len(active) == 0 {
		return nil, &apperrors.ValidationError{
			Field:   "strategies",
			Message: "No active strategies found",
			Err:     apperrors.ErrNoActiveStrategies,
		}
	}

	ctx, logger := s.context(ctx)
	logger = logging.WithOperation(logger, operation)
	report := &BatchReport[T]{Operation: operation, Total: len(active), verb: verb}

	results := make([]outcome[T], len(active))
	if s.opts.BatchConcurrency > 1 {
		p := pool.New().WithMaxGoroutines(s.opts.BatchConcurrency)
		for i, st := range active {
			i, st := i, st
			p.Go(func() {
				s.progress(i+1, len(active), st.Name)
				v, err := fn(ctx, st)
				results[i] = outcome[T]{value: v, err: err}
			})
		}
		p.Wait()
	} else {
		for i, st := range active {
			if err := ctx.Err(); err != nil {
				results[i] = outcome[T]{err: err}
				continue
			}
			s.progress(i+1, len(active), st.Name)
			v, err := fn(ctx, st)
			results[i] = outcome[T]{value: v, err: err}
		}
	}

	succeeded := make([]string, 0, len(active))
	for i, res := range results {
		if res.err != nil {
			report.Failed = append(report.Failed, FailedStrategy{
				Name:       active[i].Name,
				StrategyID: active[i].ID,
				Error:      res.err,
				Message:    res.err.Error(),
			})
			continue
		}
		report.Succeeded = append(report.Succeeded, res.value)
		succeeded = append(succeeded, name(res.value))
	}

	logging.LogBatch(logger, operation, len(report.Succeeded), len(report.Failed))
	summary := report.summary()
	summary.Succeeded = succeeded
	if nerr := s.notifier.SendBatch(ctx, summary); nerr != nil {
		logger.Warn().Err(nerr).Msg("Failed to send batch notification")
	}

	if len(report.Succeeded) == 0 {
		return report, fmt.Errorf("%s: %w", operation, apperrors.ErrAllFailed)
	}
	return report, nil
}

// GenerateBacktestBatch backtests every active strategy with the same
// request, one strategy at a time unless BatchConcurrency says otherwise.
func (s *Service) GenerateBacktestBatch(ctx context.Context, strategies []models.Strategy, req BacktestRequest) (*BatchReport[models.Backtest], error) {
	return runBatch(ctx, s, "backtest_all", "backtest", strategies,
		func(bt models.Backtest) string { return bt.StrategyName },
		func(ctx context.Context, st models.Strategy) (models.Backtest, error) {
			bt, err := s.GenerateBacktest(ctx, st, req)
			if err != nil {
				return models.Backtest{}, err
			}
			return *bt, nil
		})
}

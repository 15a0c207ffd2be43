// Package workflow orchestrates the LLM-delegated backtest, signal and
// strategy discovery flows: build a prompt, call the LLM, normalize, persist.
package workflow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"algotrader/internal/backtest"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/notify"
	"algotrader/internal/session"
	"algotrader/internal/store"
)

// RunRecorder keeps the local history of workflow runs.
type RunRecorder interface {
	RecordRun(ctx context.Context, run store.Run) error
}

// ProgressFunc is called before each strategy of a batch is processed.
type ProgressFunc func(current, total int, name string)

// Options configures a Service.
type Options struct {
	// BatchConcurrency above 1 runs batches with a bounded fan-out. Results
	// and failures are still reported in input order.
	BatchConcurrency int
	// SignalLimit caps how many active strategies a signal batch covers.
	// Zero means no cap.
	SignalLimit int
	OnProgress  ProgressFunc

	Now   func() time.Time
	RunID func() string
}

// Service runs the generation workflows against a gateway.
type Service struct {
	gw       gateway.Gateway
	session  *session.Session
	runs     RunRecorder
	notifier notify.Notifier
	opts     Options
}

// NewService creates a workflow service. sess, runs and notifier may be nil.
func NewService(gw gateway.Gateway, sess *session.Session, runs RunRecorder, notifier notify.Notifier, opts Options) *Service {
	if notifier == nil {
		notifier = notify.NewNoOpNotifier()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.RunID == nil {
		opts.RunID = backtest.RunID
	}
	if opts.BatchConcurrency < 1 {
		opts.BatchConcurrency = 1
	}
	return &Service{
		gw:       gw,
		session:  sess,
		runs:     runs,
		notifier: notifier,
		opts:     opts,
	}
}

// SetProgress replaces the batch progress callback.
func (s *Service) SetProgress(fn ProgressFunc) {
	s.opts.OnProgress = fn
}

func (s *Service) context(ctx context.Context) (context.Context, zerolog.Logger) {
	if s.session != nil {
		ctx = s.session.Context(ctx)
	}
	return ctx, logging.FromContext(ctx)
}

func (s *Service) record(ctx context.Context, logger zerolog.Logger, run store.Run, err error) {
	if s.runs == nil {
		return
	}
	run.FinishedAt = s.opts.Now()
	run.Status = store.RunSucceeded
	if err != nil {
		run.Status = store.RunFailed
		run.Error = err.Error()
		run.ErrorKind = string(apperrors.Classify(err))
	}
	if recErr := s.runs.RecordRun(ctx, run); recErr != nil {
		logger.Warn().Err(recErr).Str("run_id", run.ID).Msg("Failed to record run history")
	}
}

func (s *Service) progress(current, total int, name string) {
	if s.opts.OnProgress != nil {
		s.opts.OnProgress(current, total, name)
	}
}

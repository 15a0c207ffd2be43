package workflow

import (
	"context"
	"encoding/json"
	"time"

	"algotrader/internal/backtest"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/store"
)

// DateLayout is the format of backtest period dates.
const DateLayout = "2006-01-02"

// Period is the simulated date range.
type Period struct {
	Start time.Time
	End   time.Time
}

// BacktestRequest is the input of a backtest run.
type BacktestRequest struct {
	Symbols []string
	Period  Period
	Capital float64
}

// DefaultBacktestRequest is used for strategies produced by discovery.
func DefaultBacktestRequest() BacktestRequest {
	return BacktestRequest{
		Symbols: []string{"SPY", "QQQ", "IWM"},
		Period: Period{
			Start: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		},
		Capital: 10000,
	}
}

// Validate checks the request against strategy before anything is sent.
func (r BacktestRequest) Validate(strategy models.Strategy) error {
	if strategy.Rules.EntryConditions == "" {
		return apperrors.NewValidationError("rules.entry_conditions", nil, "entry conditions are required")
	}
	if strategy.Rules.ExitConditions == "" {
		return apperrors.NewValidationError("rules.exit_conditions", nil, "exit conditions are required")
	}
	if len(r.Symbols) == 0 {
		return apperrors.NewValidationError("symbols", nil, "at least one symbol is required")
	}
	if r.Period.Start.IsZero() || r.Period.End.IsZero() || !r.Period.Start.Before(r.Period.End) {
		return apperrors.NewValidationError("period", r.Period.Start.Format(DateLayout)+".."+r.Period.End.Format(DateLayout), "start must be before end")
	}
	if r.Capital <= 0 {
		return apperrors.NewValidationError("capital", r.Capital, "must be greater than 0")
	}
	return nil
}

type backtestPrompt struct {
	Strategy models.Strategy
	Symbols  []string
	Start    string
	End      string
	Capital  float64
}

// GenerateBacktest asks the LLM for a simulated performance record of
// strategy, normalizes it and persists it as a Backtest. Nothing is stored
// when the response is incomplete. Persistence failures are not retried.
func (s *Service) GenerateBacktest(ctx context.Context, strategy models.Strategy, req BacktestRequest) (*models.Backtest, error) {
	if err := req.Validate(strategy); err != nil {
		return nil, err
	}

	runID := s.opts.RunID()
	ctx, logger := s.context(ctx)
	logger = logging.WithRunID(logging.WithStrategy(logger, strategy.Name), runID)
	ctx = logging.WithLogger(ctx, logger)

	run := store.Run{
		ID:           runID,
		Kind:         store.RunBacktest,
		StrategyID:   strategy.ID,
		StrategyName: strategy.Name,
		StartedAt:    s.opts.Now(),
	}

	bt, err := s.generateBacktest(ctx, strategy, req, runID)
	if bt != nil {
		run.RemoteID = bt.ID
		run.TotalReturn = bt.TotalReturn
		run.SharpeRatio = bt.SharpeRatio
	}
	s.record(ctx, logger, run, err)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(apperrors.Classify(err))).Msg("Backtest failed")
		return nil, err
	}

	logging.LogBacktest(logger, runID, strategy.Name, bt.TotalReturn, bt.SharpeRatio)
	if nerr := s.notifier.SendBacktest(ctx, bt); nerr != nil {
		logger.Warn().Err(nerr).Msg("Failed to send backtest notification")
	}
	return bt, nil
}

func (s *Service) generateBacktest(ctx context.Context, strategy models.Strategy, req BacktestRequest, runID string) (*models.Backtest, error) {
	p := backtestPrompt{
		Strategy: strategy,
		Symbols:  req.Symbols,
		Start:    req.Period.Start.Format(DateLayout),
		End:      req.Period.End.Format(DateLayout),
		Capital:  req.Capital,
	}
	prompt, err := render("backtest", p)
	if err != nil {
		return nil, err
	}

	out, err := s.gw.InvokeLLM(ctx, gateway.LLMRequest{
		Prompt:                 prompt,
		AddContextFromInternet: false,
		ResponseJSONSchema:     backtest.ResultSchema(),
	})
	if err != nil {
		return nil, err
	}

	var raw backtest.RawResult
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, apperrors.NewIncompleteAIResponseError("backtest")
	}

	record, err := backtest.Normalize(raw, backtest.Params{
		RunID:          runID,
		StrategyID:     strategy.ID,
		StrategyName:   strategy.Name,
		StartDate:      p.Start,
		EndDate:        p.End,
		Symbols:        req.Symbols,
		InitialCapital: req.Capital,
	})
	if err != nil {
		return nil, err
	}

	saved, err := gateway.Backtests(s.gw).Create(ctx, record)
	if err != nil {
		return nil, apperrors.NewPersistenceError(string(models.KindBacktest), err)
	}
	return &saved, nil
}

package workflow

import (
	"context"
	"encoding/json"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/store"
)

type signalResult struct {
	Symbol       string              `json:"symbol"`
	AssetType    models.AssetType    `json:"asset_type"`
	Action       models.SignalAction `json:"action"`
	CurrentPrice float64             `json:"current_price"`
	EntryPrice   float64             `json:"entry_price"`
	StopLoss     float64             `json:"stop_loss"`
	TakeProfit   float64             `json:"take_profit"`
	Quantity     float64             `json:"quantity"`
	Confidence   float64             `json:"confidence"`
	Rationale    string              `json:"rationale"`
}

func signalSchema() map[string]any {
	num := map[string]any{"type": "number"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"symbol": map[string]any{"type": "string"},
			"asset_type": map[string]any{
				"type": "string",
				"enum": []string{"stock", "option", "future"},
			},
			"action": map[string]any{
				"type": "string",
				"enum": []string{"buy", "sell", "buy_to_open", "sell_to_close"},
			},
			"current_price": num,
			"entry_price":   num,
			"stop_loss":     num,
			"take_profit":   num,
			"quantity":      num,
			"confidence":    num,
			"rationale":     map[string]any{"type": "string"},
		},
		"required": []string{"symbol", "action", "entry_price"},
	}
}

// GenerateSignal asks the LLM for a live trade recommendation following
// strategy and stores it as an active entry signal. Signal values are
// stored as returned.
func (s *Service) GenerateSignal(ctx context.Context, strategy models.Strategy) (*models.Signal, error) {
	if strategy.Name == "" {
		return nil, apperrors.NewValidationError("name", nil, "strategy name is required")
	}

	ctx, logger := s.context(ctx)
	logger = logging.WithStrategy(logger, strategy.Name)
	ctx = logging.WithLogger(ctx, logger)

	started := s.opts.Now()
	sig, err := s.generateSignal(ctx, strategy)

	run := store.Run{
		ID:           "SG-" + s.opts.RunID(),
		Kind:         store.RunSignal,
		StrategyID:   strategy.ID,
		StrategyName: strategy.Name,
		StartedAt:    started,
	}
	if sig != nil {
		run.RemoteID = sig.ID
	}
	s.record(ctx, logger, run, err)
	if err != nil {
		logger.Error().Err(err).Str("kind", string(apperrors.Classify(err))).Msg("Signal generation failed")
		return nil, err
	}

	logger.Info().
		Str("symbol", sig.Symbol).
		Str("action", string(sig.Action)).
		Float64("confidence", sig.Confidence).
		Msg("Signal generated")
	if nerr := s.notifier.SendSignal(ctx, sig); nerr != nil {
		logger.Warn().Err(nerr).Msg("Failed to send signal notification")
	}
	return sig, nil
}

func (s *Service) generateSignal(ctx context.Context, strategy models.Strategy) (*models.Signal, error) {
	prompt, err := render("signal", strategy)
	if err != nil {
		return nil, err
	}

	out, err := s.gw.InvokeLLM(ctx, gateway.LLMRequest{
		Prompt:                 prompt,
		AddContextFromInternet: true,
		ResponseJSONSchema:     signalSchema(),
	})
	if err != nil {
		return nil, err
	}

	var res signalResult
	if err := json.Unmarshal(out, &res); err != nil {
		return nil, apperrors.NewIncompleteAIResponseError("signal")
	}
	var missing []string
	if res.Symbol == "" {
		missing = append(missing, "symbol")
	}
	if !res.Action.Valid() {
		missing = append(missing, "action")
	}
	if len(missing) > 0 {
		return nil, apperrors.NewIncompleteAIResponseError("signal", missing...)
	}

	now := s.opts.Now().UTC()
	saved, err := gateway.Signals(s.gw).Create(ctx, models.Signal{
		StrategyID:      strategy.ID,
		StrategyName:    strategy.Name,
		Symbol:          res.Symbol,
		AssetType:       res.AssetType,
		Action:          res.Action,
		SignalType:      "entry",
		Confidence:      res.Confidence,
		EntryPrice:      res.EntryPrice,
		StopLoss:        res.StopLoss,
		TakeProfit:      res.TakeProfit,
		Quantity:        res.Quantity,
		Rationale:       res.Rationale,
		Status:          models.SignalActive,
		SignalTimestamp: &now,
		MarketData:      &models.SignalMarketData{CurrentPrice: res.CurrentPrice},
	})
	if err != nil {
		return nil, apperrors.NewPersistenceError(string(models.KindSignal), err)
	}
	return &saved, nil
}

// GenerateSignals generates one signal per active strategy, in order, with
// the same partial-failure handling as backtest batches.
func (s *Service) GenerateSignals(ctx context.Context, strategies []models.Strategy) (*BatchReport[models.Signal], error) {
	active := models.ActiveStrategies(strategies)
	if s.opts.SignalLimit > 0 && len(active) > s.opts.SignalLimit {
		active = active[:s.opts.SignalLimit]
	}
	return runBatch(ctx, s, "generate_signals", "generate a signal", active,
		func(sig models.Signal) string { return sig.StrategyName },
		func(ctx context.Context, st models.Strategy) (models.Signal, error) {
			sig, err := s.GenerateSignal(ctx, st)
			if err != nil {
				return models.Signal{}, err
			}
			return *sig, nil
		})
}

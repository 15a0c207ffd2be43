package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc/pool"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/store"
)

// Discovery defaults.
const (
	DefaultDiscoveryCount = 3
	insightReturnFloor    = 10.0
	insightLimit          = 5
)

// DiscoveryRequest configures a strategy discovery run.
type DiscoveryRequest struct {
	AnalysisType  string
	FocusArea     models.AssetType
	RiskTolerance string
	Count         int

	// Persist saves every candidate as an inactive Strategy. AutoBacktest
	// implies Persist and backtests each saved candidate with Backtest.
	Persist      bool
	AutoBacktest bool
	Backtest     BacktestRequest
}

// ChainResult is the outcome of one candidate's save-then-backtest chain.
// Err is set by the first failing step; siblings are unaffected.
type ChainResult struct {
	Strategy models.Strategy  `json:"strategy"`
	Saved    bool             `json:"saved"`
	Backtest *models.Backtest `json:"backtest,omitempty"`
	Err      error            `json:"-"`
}

// DiscoveryResult lists every candidate in the order the LLM returned them.
type DiscoveryResult struct {
	Candidates []ChainResult `json:"candidates"`
	Insights   string        `json:"insights,omitempty"`
}

// Failed returns the candidates whose chain failed.
func (r *DiscoveryResult) Failed() []ChainResult {
	var failed []ChainResult
	for _, c := range r.Candidates {
		if c.Err != nil {
			failed = append(failed, c)
		}
	}
	return failed
}

type discoveredStrategy struct {
	Name            string              `json:"name"`
	Description     string              `json:"description"`
	StrategyType    models.StrategyType `json:"strategy_type"`
	Timeframe       models.Timeframe    `json:"timeframe"`
	Indicators      []string            `json:"indicators"`
	EntryConditions string              `json:"entry_conditions"`
	ExitConditions  string              `json:"exit_conditions"`
	RiskPerTrade    float64             `json:"risk_per_trade"`
	MaxPositionSize float64             `json:"max_position_size"`
	Rationale       string              `json:"rationale"`
	ExpectedWinRate float64             `json:"expected_win_rate"`
	ExpectedSharpe  float64             `json:"expected_sharpe"`
}

func discoverySchema() map[string]any {
	str := map[string]any{"type": "string"}
	num := map[string]any{"type": "number"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"strategies": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        str,
						"description": str,
						"strategy_type": map[string]any{
							"type": "string",
							"enum": []string{"momentum", "mean_reversion", "breakout", "trend_following", "volatility", "custom"},
						},
						"timeframe": map[string]any{
							"type": "string",
							"enum": []string{"15min", "1hour", "4hour", "daily", "weekly"},
						},
						"indicators":        map[string]any{"type": "array", "items": str},
						"entry_conditions":  str,
						"exit_conditions":   str,
						"risk_per_trade":    num,
						"max_position_size": num,
						"rationale":         str,
						"expected_win_rate": num,
						"expected_sharpe":   num,
					},
				},
			},
		},
	}
}

type discoveryPrompt struct {
	DiscoveryRequest
	Insights     string
	RiskGuidance string
}

// DiscoverStrategies asks the LLM for new candidate strategies, informed by
// the best recent backtests, and optionally saves and backtests each one.
func (s *Service) DiscoverStrategies(ctx context.Context, req DiscoveryRequest) (*DiscoveryResult, error) {
	if req.Count <= 0 {
		req.Count = DefaultDiscoveryCount
	}
	if req.FocusArea == "" {
		req.FocusArea = models.AssetStock
	}
	if req.RiskTolerance == "" {
		req.RiskTolerance = "moderate"
	}
	if req.AutoBacktest {
		req.Persist = true
		if len(req.Backtest.Symbols) == 0 {
			req.Backtest = DefaultBacktestRequest()
		}
	}

	ctx, logger := s.context(ctx)
	logger = logging.WithOperation(logger, "discover_strategies")
	ctx = logging.WithLogger(ctx, logger)

	run := store.Run{
		ID:           "SD-" + s.opts.RunID(),
		Kind:         store.RunDiscovery,
		StrategyName: fmt.Sprintf("%s/%s", req.AnalysisType, req.FocusArea),
		StartedAt:    s.opts.Now(),
	}

	result, err := s.discover(ctx, req)
	s.record(ctx, logger, run, err)
	if err != nil {
		logger.Error().Err(err).Msg("Strategy discovery failed")
		return nil, err
	}

	if req.Persist {
		s.runChains(ctx, req, result)
	}

	logger.Info().
		Int("candidates", len(result.Candidates)).
		Int("failed", len(result.Failed())).
		Msg("Strategy discovery finished")
	return result, nil
}

func (s *Service) discover(ctx context.Context, req DiscoveryRequest) (*DiscoveryResult, error) {
	insights := s.historicalInsights(ctx)

	prompt, err := render("discovery", discoveryPrompt{
		DiscoveryRequest: req,
		Insights:         insights,
		RiskGuidance:     riskGuidance(req.RiskTolerance),
	})
	if err != nil {
		return nil, err
	}

	out, err := s.gw.InvokeLLM(ctx, gateway.LLMRequest{
		Prompt:                 prompt,
		AddContextFromInternet: true,
		ResponseJSONSchema:     discoverySchema(),
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Strategies []discoveredStrategy `json:"strategies"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil || len(parsed.Strategies) == 0 {
		return nil, apperrors.NewIncompleteAIResponseError("discovery", "strategies")
	}
	if len(parsed.Strategies) > req.Count {
		logger := logging.FromContext(ctx)
		logger.Debug().
			Int("returned", len(parsed.Strategies)).
			Int("requested", req.Count).
			Msg("Dropping extra discovery candidates")
		parsed.Strategies = parsed.Strategies[:req.Count]
	}

	result := &DiscoveryResult{Insights: insights}
	for _, d := range parsed.Strategies {
		result.Candidates = append(result.Candidates, ChainResult{Strategy: d.toStrategy(req.FocusArea)})
	}
	return result, nil
}

func (d discoveredStrategy) toStrategy(focus models.AssetType) models.Strategy {
	indicators := d.Indicators
	if indicators == nil {
		indicators = []string{}
	}
	st := models.Strategy{
		Name:         d.Name,
		Description:  d.Description,
		AssetTypes:   []models.AssetType{focus},
		StrategyType: d.StrategyType,
		Timeframe:    d.Timeframe,
		Indicators:   indicators,
		Rules: models.Rules{
			EntryConditions: d.EntryConditions,
			ExitConditions:  d.ExitConditions,
			RiskPerTrade:    d.RiskPerTrade,
			MaxPositionSize: d.MaxPositionSize,
		},
		Discovered:      true,
		Rationale:       d.Rationale,
		ExpectedWinRate: d.ExpectedWinRate,
		ExpectedSharpe:  d.ExpectedSharpe,
	}
	st.SetActive(false)
	return st
}

// historicalInsights summarizes up to five completed backtests that
// returned more than 10%. A failed lookup yields no insights.
func (s *Service) historicalInsights(ctx context.Context) string {
	backtests, err := gateway.Backtests(s.gw).List(ctx, gateway.ListOptions{Sort: "-created_date", Limit: 50})
	if err != nil {
		logger := logging.FromContext(ctx)
		logger.Warn().Err(err).Msg("Could not load backtests for discovery insights")
		return ""
	}

	var lines []string
	for _, bt := range backtests {
		if bt.Status != models.BacktestCompleted || bt.TotalReturn <= insightReturnFloor {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %.1f%% return, %.1f%% win rate, Sharpe: %.2f",
			bt.StrategyName, bt.TotalReturn, bt.WinRate, bt.SharpeRatio))
		if len(lines) == insightLimit {
			break
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "Successful strategies:\n" + strings.Join(lines, "\n")
}

func (s *Service) runChains(ctx context.Context, req DiscoveryRequest, result *DiscoveryResult) {
	chain := func(c *ChainResult) {
		saved, err := gateway.Strategies(s.gw).Create(ctx, c.Strategy)
		if err != nil {
			c.Err = apperrors.NewPersistenceError(string(models.KindStrategy), err)
			return
		}
		c.Strategy = saved
		c.Saved = true

		if !req.AutoBacktest {
			return
		}
		bt, err := s.GenerateBacktest(ctx, saved, req.Backtest)
		if err != nil {
			c.Err = err
			return
		}
		c.Backtest = bt
	}

	if s.opts.BatchConcurrency <= 1 {
		for i := range result.Candidates {
			chain(&result.Candidates[i])
		}
		return
	}

	p := pool.New().WithMaxGoroutines(s.opts.BatchConcurrency)
	for i := range result.Candidates {
		c := &result.Candidates[i]
		p.Go(func() { chain(c) })
	}
	p.Wait()
}

// Package strategies manages user-defined trading strategies: CRUD over the
// Strategy collection plus import from YAML files.
package strategies

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
)

// Form defaults.
const (
	DefaultRiskPerTrade    = 1.0
	DefaultMaxPositionSize = 1000.0
)

// Service manages strategies.
type Service struct {
	entities gateway.Entities
}

// New creates a Service.
func New(entities gateway.Entities) *Service {
	return &Service{entities: entities}
}

// List returns every strategy, newest first.
func (s *Service) List(ctx context.Context) ([]models.Strategy, error) {
	return gateway.Strategies(s.entities).List(ctx, gateway.ListOptions{Sort: "-created_date"})
}

// Get returns strategy id.
func (s *Service) Get(ctx context.Context, id string) (models.Strategy, error) {
	all, err := s.List(ctx)
	if err != nil {
		return models.Strategy{}, err
	}
	for _, st := range all {
		if st.ID == id {
			return st, nil
		}
	}
	return models.Strategy{}, apperrors.Wrapf(apperrors.ErrNotFound, "strategy %s", id)
}

// Create fills in form defaults, validates and persists st. New strategies
// are active unless the flag is set explicitly.
func (s *Service) Create(ctx context.Context, st models.Strategy) (models.Strategy, error) {
	st = WithDefaults(st)
	if err := Validate(st); err != nil {
		return models.Strategy{}, err
	}
	created, err := gateway.Strategies(s.entities).Create(ctx, st)
	if err != nil {
		return models.Strategy{}, apperrors.NewPersistenceError("Strategy", err)
	}
	logger := logging.FromContext(ctx)
	logger.Info().Str("strategy", created.Name).Str("id", created.ID).Msg("Strategy created")
	return created, nil
}

// Update replaces the editable fields of strategy id.
func (s *Service) Update(ctx context.Context, id string, st models.Strategy) (models.Strategy, error) {
	st = WithDefaults(st)
	if err := Validate(st); err != nil {
		return models.Strategy{}, err
	}
	updated, err := gateway.Strategies(s.entities).Update(ctx, id, st)
	if err != nil {
		return models.Strategy{}, apperrors.NewPersistenceError("Strategy", err)
	}
	return updated, nil
}

// ToggleActive flips the active flag of strategy id.
func (s *Service) ToggleActive(ctx context.Context, id string) (models.Strategy, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return models.Strategy{}, err
	}
	return gateway.Strategies(s.entities).Patch(ctx, id, gateway.Record{"is_active": !st.Active()})
}

// Delete removes strategy id.
func (s *Service) Delete(ctx context.Context, id string) error {
	return gateway.Strategies(s.entities).Delete(ctx, id)
}

// Import creates every strategy in the YAML file at path. It stops at the
// first invalid strategy; strategies created before it are kept.
func (s *Service) Import(ctx context.Context, path string) ([]models.Strategy, error) {
	parsed, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	var created []models.Strategy
	for i, st := range parsed {
		c, err := s.Create(ctx, st)
		if err != nil {
			return created, fmt.Errorf("strategy %d (%s): %w", i+1, st.Name, err)
		}
		created = append(created, c)
	}
	return created, nil
}

// WithDefaults applies the form defaults.
func WithDefaults(st models.Strategy) models.Strategy {
	st.Name = strings.TrimSpace(st.Name)
	if st.StrategyType == "" {
		st.StrategyType = models.StrategyMomentum
	}
	if st.Timeframe == "" {
		st.Timeframe = models.TimeframeDaily
	}
	if len(st.AssetTypes) == 0 {
		st.AssetTypes = []models.AssetType{models.AssetStock}
	}
	if st.Rules.RiskPerTrade == 0 {
		st.Rules.RiskPerTrade = DefaultRiskPerTrade
	}
	if st.Rules.MaxPositionSize == 0 {
		st.Rules.MaxPositionSize = DefaultMaxPositionSize
	}
	if st.IsActive == nil {
		st.SetActive(true)
	}
	st.Indicators = compact(st.Indicators)
	return st
}

// Validate checks the enums and limits of st.
func Validate(st models.Strategy) error {
	if st.Name == "" {
		return apperrors.NewValidationError("name", nil, "is required")
	}
	if !st.StrategyType.Valid() {
		return apperrors.NewValidationError("strategy_type", st.StrategyType, "is not a known strategy type")
	}
	if !st.Timeframe.Valid() {
		return apperrors.NewValidationError("timeframe", st.Timeframe, "is not a known timeframe")
	}
	for _, at := range st.AssetTypes {
		switch at {
		case models.AssetStock, models.AssetOption, models.AssetFuture,
			models.AssetCrypto, models.AssetForex, models.AssetCommodity:
		default:
			return apperrors.NewValidationError("asset_types", at, "is not a known asset type")
		}
	}
	if st.Rules.RiskPerTrade < 0 || st.Rules.RiskPerTrade > 100 {
		return apperrors.NewValidationError("rules.risk_per_trade", st.Rules.RiskPerTrade, "must be between 0 and 100")
	}
	if st.Rules.MaxPositionSize < 0 {
		return apperrors.NewValidationError("rules.max_position_size", st.Rules.MaxPositionSize, "cannot be negative")
	}
	return nil
}

// fileDoc is one YAML document: a single strategy or a list of them.
type fileDoc struct {
	Strategies      []models.Strategy `yaml:"strategies"`
	models.Strategy `yaml:",inline"`
}

// LoadFile parses strategies from a YAML file. A file may hold one
// strategy per document or a "strategies" list. Unknown keys are rejected.
func LoadFile(path string) ([]models.Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading strategy file: %w", err)
	}
	return Parse(data)
}

// Parse parses strategies from YAML.
func Parse(data []byte) ([]models.Strategy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var out []models.Strategy
	for {
		var doc fileDoc
		err := dec.Decode(&doc)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, apperrors.NewValidationError("file", nil, err.Error())
		}
		out = append(out, doc.Strategies...)
		if doc.Name != "" {
			out = append(out, doc.Strategy)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NewValidationError("file", nil, "no strategies found")
	}
	return out, nil
}

func compact(items []string) []string {
	var out []string
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

// SplitList splits a comma separated flag value.
func SplitList(v string) []string {
	return compact(strings.Split(v, ","))
}

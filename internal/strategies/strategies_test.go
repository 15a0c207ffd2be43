package strategies

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
)

func TestCreate_AppliesDefaults(t *testing.T) {
	svc := New(gateway.NewMemory())
	st, err := svc.Create(context.Background(), models.Strategy{
		Name:       "  Golden Cross  ",
		Indicators: []string{"SMA50", " ", "SMA200"},
		Rules:      models.Rules{EntryConditions: "50 crosses above 200", ExitConditions: "50 crosses below 200"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if st.Name != "Golden Cross" || st.ID == "" {
		t.Errorf("strategy = %+v", st)
	}
	if st.StrategyType != models.StrategyMomentum || st.Timeframe != models.TimeframeDaily {
		t.Errorf("type/timeframe = %s/%s", st.StrategyType, st.Timeframe)
	}
	if st.Rules.RiskPerTrade != DefaultRiskPerTrade || st.Rules.MaxPositionSize != DefaultMaxPositionSize {
		t.Errorf("rules = %+v", st.Rules)
	}
	if !st.Active() || len(st.Indicators) != 2 {
		t.Errorf("active=%v indicators=%v", st.Active(), st.Indicators)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name  string
		st    models.Strategy
		field string
	}{
		{"no name", models.Strategy{}, "name"},
		{"bad type", models.Strategy{Name: "x", StrategyType: "arbitrage"}, "strategy_type"},
		{"bad timeframe", models.Strategy{Name: "x", Timeframe: "2hour"}, "timeframe"},
		{"bad asset", models.Strategy{Name: "x", AssetTypes: []models.AssetType{"bond"}}, "asset_types"},
		{"risk too high", models.Strategy{Name: "x", Rules: models.Rules{RiskPerTrade: 150}}, "rules.risk_per_trade"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := gateway.NewMemory()
			_, err := New(mem).Create(context.Background(), tt.st)
			var ve *apperrors.ValidationError
			if !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("err = %v, want ValidationError on %s", err, tt.field)
			}
			if mem.Count(models.KindStrategy) != 0 {
				t.Error("invalid strategy persisted")
			}
		})
	}
}

func TestToggleAndDelete(t *testing.T) {
	mem := gateway.NewMemory()
	svc := New(mem)
	ctx := context.Background()

	st, err := svc.Create(ctx, models.Strategy{Name: "Toggle me"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	off, err := svc.ToggleActive(ctx, st.ID)
	if err != nil || off.Active() {
		t.Fatalf("ToggleActive = %+v, %v", off, err)
	}
	on, err := svc.ToggleActive(ctx, st.ID)
	if err != nil || !on.Active() {
		t.Fatalf("ToggleActive = %+v, %v", on, err)
	}

	if err := svc.Delete(ctx, st.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, st.ID); !errors.Is(err, apperrors.ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc := New(gateway.NewMemory())
	ctx := context.Background()
	st, _ := svc.Create(ctx, models.Strategy{Name: "Before"})

	st.Name = "After"
	st.Timeframe = models.Timeframe1Hour
	updated, err := svc.Update(ctx, st.ID, st)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Name != "After" || updated.Timeframe != models.Timeframe1Hour {
		t.Errorf("updated = %+v", updated)
	}
}

const strategyFile = `
strategies:
  - name: RSI Reversion
    strategy_type: mean_reversion
    timeframe: 1hour
    asset_types: [stock, crypto]
    indicators: [RSI]
    rules:
      entry_conditions: RSI below 30
      exit_conditions: RSI above 70
      risk_per_trade: 2
---
name: Breakout Box
strategy_type: breakout
is_active: false
rules:
  entry_conditions: close above 20 day high
  exit_conditions: close below 10 day low
`

func TestImport_MultiDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte(strategyFile), 0o600); err != nil {
		t.Fatal(err)
	}

	mem := gateway.NewMemory()
	created, err := New(mem).Import(context.Background(), path)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("created = %d, want 2", len(created))
	}
	if created[0].StrategyType != models.StrategyMeanReversion || created[0].Rules.RiskPerTrade != 2 {
		t.Errorf("first = %+v", created[0])
	}
	if created[1].Active() {
		t.Error("explicit is_active: false was overridden")
	}
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("name: Typo\nstrategy_typ: momentum\n"))
	if apperrors.Classify(err) != apperrors.KindValidation {
		t.Errorf("err = %v, want validation error", err)
	}
	if _, err := Parse([]byte("# nothing\n")); err == nil {
		t.Error("empty file accepted")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" RSI, MACD ,,SMA ")
	if len(got) != 3 || got[0] != "RSI" || got[2] != "SMA" {
		t.Errorf("SplitList = %v", got)
	}
}

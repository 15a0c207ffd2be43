package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"algotrader/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Property: for any batch of recorded runs, the stats agree with the rows:
// succeeded + failed == total, and listing by status returns exactly the
// rows recorded with that status.
func TestProperty_RunStatsMatchRows(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	iteration := 0

	properties.Property("stats agree with recorded runs", prop.ForAll(
		func(outcomes []bool) bool {
			ctx := context.Background()
			iteration++
			kind := RunKind(fmt.Sprintf("kind-%d", iteration))
			base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

			wantOK := 0
			for i, ok := range outcomes {
				run := Run{
					ID:           fmt.Sprintf("%s-%d", kind, i),
					Kind:         kind,
					StrategyName: "s",
					Status:       RunFailed,
					ErrorKind:    "remote_call",
					StartedAt:    base.Add(time.Duration(i) * time.Minute),
					FinishedAt:   base.Add(time.Duration(i)*time.Minute + time.Second),
				}
				if ok {
					run.Status = RunSucceeded
					run.ErrorKind = ""
					run.TotalReturn = float64(i)
					wantOK++
				}
				if err := s.RecordRun(ctx, run); err != nil {
					t.Logf("RecordRun: %v", err)
					return false
				}
			}

			stats, err := s.GetRunStats(ctx, kind)
			if err != nil {
				t.Logf("GetRunStats: %v", err)
				return false
			}
			if stats.Total != len(outcomes) || stats.Succeeded != wantOK || stats.Failed != len(outcomes)-wantOK {
				return false
			}
			if stats.ByErrorKind["remote_call"] != stats.Failed {
				return false
			}

			succeeded, err := s.ListRuns(ctx, RunFilter{Kind: kind, Status: RunSucceeded})
			if err != nil {
				return false
			}
			return len(succeeded) == wantOK
		},
		gen.SliceOfN(8, gen.Bool()),
	))

	properties.TestingRun(t)
}

func TestListRuns_NewestFirstWithLimit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := s.RecordRun(ctx, Run{
			ID:           fmt.Sprintf("BT-20240301-00000%d", i),
			Kind:         RunBacktest,
			StrategyID:   "strategy-1",
			StrategyName: "Momentum",
			Status:       RunSucceeded,
			TotalReturn:  float64(i * 10),
			SharpeRatio:  1.2,
			StartedAt:    base.Add(time.Duration(i) * time.Hour),
			FinishedAt:   base.Add(time.Duration(i)*time.Hour + 3*time.Second),
		})
		if err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, RunFilter{Kind: RunBacktest, Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len = %d, want 2", len(runs))
	}
	if runs[0].ID != "BT-20240301-000004" || runs[1].ID != "BT-20240301-000003" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
	if runs[0].Duration() != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", runs[0].Duration())
	}

	stats, err := s.GetRunStats(ctx, RunBacktest)
	if err != nil {
		t.Fatalf("GetRunStats: %v", err)
	}
	if stats.BestRunID != "BT-20240301-000004" || stats.BestReturn != 40 {
		t.Errorf("best = %s/%v", stats.BestRunID, stats.BestReturn)
	}
	if stats.AvgReturn != 20 || stats.SuccessRate() != 100 {
		t.Errorf("avg = %v, rate = %v", stats.AvgReturn, stats.SuccessRate())
	}
}

func TestRecordRun_RequiresID(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordRun(context.Background(), Run{Kind: RunSignal}); err == nil {
		t.Error("expected error for empty id")
	}
}

func TestQuotes_CacheKeepsRequestOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 15, 30, 0, 0, time.UTC)

	err := s.SaveQuotes(ctx, []models.Quote{
		{Symbol: "AAPL", Price: 190.5, Change: 1.2, ChangePercent: 0.63, Volume: 1000},
		{Symbol: "SPY", Price: 510.1},
	}, at)
	if err != nil {
		t.Fatalf("SaveQuotes: %v", err)
	}
	if err := s.SaveQuotes(ctx, []models.Quote{{Symbol: "AAPL", Price: 191}}, at.Add(time.Minute)); err != nil {
		t.Fatalf("SaveQuotes: %v", err)
	}

	quotes, err := s.GetQuotes(ctx, []string{"SPY", "MSFT", "AAPL"})
	if err != nil {
		t.Fatalf("GetQuotes: %v", err)
	}
	if len(quotes) != 2 {
		t.Fatalf("len = %d, want 2", len(quotes))
	}
	if quotes[0].Symbol != "SPY" || quotes[1].Symbol != "AAPL" {
		t.Errorf("order = %s, %s", quotes[0].Symbol, quotes[1].Symbol)
	}
	if quotes[1].Price != 191 || !quotes[1].FetchedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("AAPL = %+v", quotes[1])
	}
}

func TestLastSync_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	if !s.GetLastSync("quotes").IsZero() {
		t.Fatal("expected zero time before any sync")
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := s.SetLastSync("quotes", at); err != nil {
		t.Fatalf("SetLastSync: %v", err)
	}
	if got := s.GetLastSync("quotes"); !got.Equal(at) {
		t.Errorf("GetLastSync = %v, want %v", got, at)
	}
}

package session

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
	"algotrader/internal/poller"
)

func TestSession_StartAnonymous(t *testing.T) {
	gw := gateway.NewMemory()
	s := New(gw, zerolog.Nop())

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Authenticated() {
		t.Error("anonymous session reports authenticated")
	}
	if _, err := s.RequireUser(); !apperrors.Is(err, apperrors.ErrNotAuthenticated) {
		t.Errorf("RequireUser err = %v, want ErrNotAuthenticated", err)
	}
}

func TestSession_RequireAdmin(t *testing.T) {
	tests := []struct {
		role    string
		wantErr bool
	}{
		{models.RoleAdmin, false},
		{models.RoleUser, true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run("role="+tt.role, func(t *testing.T) {
			gw := gateway.NewMemory()
			gw.SetUser(&models.User{Email: "u@example.com", Role: tt.role})
			s := New(gw, zerolog.Nop())
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start: %v", err)
			}

			_, err := s.RequireAdmin("admin.users")
			if tt.wantErr {
				if apperrors.Classify(err) != apperrors.KindPermission {
					t.Errorf("err = %v, want permission error", err)
				}
				if b := apperrors.BannerFor(err); b == nil || !b.Fatal {
					t.Error("permission banner should be fatal")
				}
				return
			}
			if err != nil {
				t.Errorf("RequireAdmin: %v", err)
			}
		})
	}
}

func TestSession_CloseCancelsTasksAndLogsOut(t *testing.T) {
	gw := gateway.NewMemory()
	gw.SetUser(&models.User{Email: "u@example.com"})
	s := New(gw, zerolog.Nop())
	_ = s.Start(context.Background())

	clock := poller.NewFakeClock(time.Unix(0, 0))
	h := s.Track(poller.Every(context.Background(), time.Minute, func(context.Context) {}, poller.WithClock(clock)))
	if s.Tasks() != 1 {
		t.Fatalf("Tasks = %d, want 1", s.Tasks())
	}

	if err := s.Close(context.Background(), true); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case <-h.Done():
	default:
		t.Error("tracked task still running after Close")
	}
	if ok, _ := gw.IsAuthenticated(context.Background()); ok {
		t.Error("gateway still authenticated after logout")
	}
	if s.User() != nil {
		t.Error("user still cached after logout")
	}
}

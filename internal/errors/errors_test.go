package errors

import (
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"validation", NewValidationError("capital", -1, "must be positive"), KindValidation},
		{"incomplete", NewIncompleteAIResponseError("backtest", "trade_log"), KindIncompleteAIResponse},
		{"remote", NewRemoteCallError("functions/alpacaBrokerage", 502, "bad gateway", nil), KindRemoteCall},
		{"circuit", Wrap(ErrCircuitOpen, "list strategies"), KindRemoteCall},
		{"persistence wrapping remote", NewPersistenceError("Backtest", NewRemoteCallError("entities/Backtest", 500, "", nil)), KindPersistence},
		{"permission", NewPermissionError("admin.users", "admin", "user"), KindPermission},
		{"wrapped validation", fmt.Errorf("running: %w", NewValidationError("symbols", "", "required")), KindValidation},
		{"plain", New("boom"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBannerFor(t *testing.T) {
	if BannerFor(nil) != nil {
		t.Fatal("expected nil banner for nil error")
	}

	b := BannerFor(NewPermissionError("admin.users", "admin", "user"))
	if !b.Fatal {
		t.Error("permission banners must replace the view")
	}

	b = BannerFor(NewRemoteCallError("functions/createTransfer", 500, "", nil))
	if b.Fatal {
		t.Error("remote call banners must be dismissible")
	}
	if b.Kind != KindRemoteCall {
		t.Errorf("Kind = %q, want %q", b.Kind, KindRemoteCall)
	}
}

func TestRemoteCallErrorUnwrap(t *testing.T) {
	err := NewRemoteCallError("auth/me", 401, "unauthorized", ErrNotAuthenticated)
	if !Is(err, ErrNotAuthenticated) {
		t.Error("expected RemoteCallError to unwrap to ErrNotAuthenticated")
	}
}

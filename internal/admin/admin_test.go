package admin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/models"
	"algotrader/internal/security"
	"algotrader/internal/session"
)

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func newService(t *testing.T, role string, access *security.AccessController) (*Service, *gateway.Memory, []models.User) {
	t.Helper()
	mem := gateway.NewMemory()
	ctx := context.Background()

	var users []models.User
	for _, u := range []models.User{
		{Email: "ada@example.com", FullName: "Ada Lovelace", Role: models.RoleUser},
		{Email: "bad@example.com", FullName: "Bounce Back", Role: models.RoleUser},
		{Email: "grace@example.com", FullName: "Grace Hopper", Role: models.RoleAdmin},
	} {
		created, err := gateway.Users(mem).Create(ctx, u)
		if err != nil {
			t.Fatalf("seeding users: %v", err)
		}
		users = append(users, created)
	}

	mem.SetUser(&models.User{Email: "me@example.com", Role: role})
	sess := session.New(mem, zerolog.Nop())
	if err := sess.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	mem.HandleFunction(gateway.FnWelcomeEmail, func(_ context.Context, p map[string]any) (any, error) {
		if p["to_email"] == "bad@example.com" {
			return map[string]any{"success": false, "details": "mailbox unavailable"}, nil
		}
		return map[string]any{"success": true, "message": fmt.Sprintf("Welcome email sent to %s", p["to_name"])}, nil
	})
	return New(mem, sess, access), mem, users
}

func TestListUsers_RequiresAdmin(t *testing.T) {
	svc, _, _ := newService(t, models.RoleUser, nil)
	_, err := svc.ListUsers(context.Background())
	var pe *apperrors.PermissionError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PermissionError", err)
	}
	if banner := apperrors.BannerFor(err); banner == nil || !banner.Fatal {
		t.Errorf("banner = %+v, want fatal", banner)
	}

	admin, _, _ := newService(t, models.RoleAdmin, nil)
	users, err := admin.ListUsers(context.Background())
	if err != nil || len(users) != 3 {
		t.Fatalf("ListUsers = %d users, %v", len(users), err)
	}
}

func TestFilterUsers(t *testing.T) {
	users := []models.User{
		{Email: "ada@example.com", FullName: "Ada Lovelace"},
		{Email: "grace@navy.mil", FullName: "Grace Hopper"},
	}
	tests := map[string]int{"": 2, "ADA": 1, "hopper": 1, "example": 1, "nobody": 0}
	for q, want := range tests {
		if got := FilterUsers(users, q); len(got) != want {
			t.Errorf("FilterUsers(%q) = %d users, want %d", q, len(got), want)
		}
	}
}

func TestSendWelcomeEmails_PerUserResults(t *testing.T) {
	var audit bytes.Buffer
	access := security.NewAccessController(false, security.NewAuditLoggerWithWriter(nopCloser{&audit}))
	svc, mem, users := newService(t, models.RoleAdmin, access)

	ids := []string{users[0].ID, "missing", users[1].ID, users[2].ID}
	results, err := svc.SendWelcomeEmails(context.Background(), ids)
	if err != nil {
		t.Fatalf("SendWelcomeEmails: %v", err)
	}

	if len(results) != 3 {
		t.Fatalf("results = %+v, want 3", results)
	}
	if !results[0].Success || results[0].Message != "Welcome email sent to Ada Lovelace" {
		t.Errorf("first = %+v", results[0])
	}
	if results[1].Success || results[1].Message != "mailbox unavailable" || results[1].Name != "Bounce Back" {
		t.Errorf("second = %+v", results[1])
	}
	if !results[2].Success || results[2].Email != "grace@example.com" {
		t.Errorf("third = %+v", results[2])
	}

	if calls := mem.Invocations(); len(calls) != 3 {
		t.Errorf("invocations = %v, want one per known user", calls)
	}
	if n := strings.Count(audit.String(), string(security.AuditWelcomeEmail)); n != 3 {
		t.Errorf("audit entries = %d, want 3", n)
	}
}

func TestSendWelcomeEmails_Blocked(t *testing.T) {
	svc, mem, users := newService(t, models.RoleUser, nil)
	if _, err := svc.SendWelcomeEmails(context.Background(), []string{users[0].ID}); apperrors.Classify(err) != apperrors.KindPermission {
		t.Errorf("non-admin err = %v", err)
	}

	readOnly, mem2, users2 := newService(t, models.RoleAdmin, security.NewAccessController(true, nil))
	_, err := readOnly.SendWelcomeEmails(context.Background(), []string{users2[0].ID})
	if !errors.Is(err, apperrors.ErrReadOnlyMode) {
		t.Errorf("read-only err = %v, want ErrReadOnlyMode", err)
	}

	if len(mem.Invocations())+len(mem2.Invocations()) != 0 {
		t.Error("email sent despite being blocked")
	}
}

// Package admin implements the admin console: listing users and sending
// welcome emails. Every operation requires the admin role.
package admin

import (
	"context"
	"strings"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/security"
	"algotrader/internal/session"
)

// EmailResult is the outcome of one welcome email.
type EmailResult struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Service is the admin console.
type Service struct {
	gw     gateway.Gateway
	sess   *session.Session
	access *security.AccessController
}

// New creates a Service.
func New(gw gateway.Gateway, sess *session.Session, access *security.AccessController) *Service {
	return &Service{gw: gw, sess: sess, access: access}
}

// ListUsers returns every user, newest first.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	if _, err := s.sess.RequireAdmin("admin.users"); err != nil {
		return nil, err
	}
	return gateway.Users(s.gw).List(ctx, gateway.ListOptions{Sort: "-created_date"})
}

// FilterUsers keeps the users whose email or full name contains query,
// ignoring case.
func FilterUsers(users []models.User, query string) []models.User {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return users
	}
	var out []models.User
	for _, u := range users {
		if strings.Contains(strings.ToLower(u.Email), q) || strings.Contains(strings.ToLower(u.FullName), q) {
			out = append(out, u)
		}
	}
	return out
}

// SendWelcomeEmails sends a welcome email to each user in userIDs, one at a
// time and in order. Unknown ids are skipped. A failed send is reported in
// its result and does not stop the rest.
func (s *Service) SendWelcomeEmails(ctx context.Context, userIDs []string) ([]EmailResult, error) {
	if _, err := s.sess.RequireAdmin("admin.welcome"); err != nil {
		return nil, err
	}
	if err := s.access.CheckPermission(ctx, security.OpSendEmail); err != nil {
		return nil, err
	}

	users, err := gateway.Users(s.gw).List(ctx, gateway.ListOptions{})
	if err != nil {
		return nil, err
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	logger := logging.FromContext(ctx)
	results := make([]EmailResult, 0, len(userIDs))
	for _, id := range userIDs {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		u, ok := byID[id]
		if !ok {
			logger.Debug().Str("user_id", id).Msg("Skipping unknown user")
			continue
		}
		res := s.send(ctx, u)
		results = append(results, res)

		var sendErr error
		if !res.Success {
			sendErr = apperrors.New(res.Message)
		}
		_ = s.access.Audit().Record(ctx, security.AuditWelcomeEmail, map[string]interface{}{"email": u.Email}, sendErr)
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	logging.LogBatch(logger, "welcome_email", ok, len(results)-ok)
	return results, nil
}

func (s *Service) send(ctx context.Context, u models.User) EmailResult {
	res := EmailResult{Email: u.Email, Name: u.FullName}

	var out struct {
		Message string `json:"message"`
	}
	err := gateway.Call(ctx, s.gw, gateway.FnWelcomeEmail, "", map[string]any{
		"to_email": u.Email,
		"to_name":  u.FullName,
	}, &out)
	if err != nil {
		res.Message = failureMessage(err)
		return res
	}

	res.Success = true
	res.Message = out.Message
	if res.Message == "" {
		res.Message = "Email sent successfully"
	}
	return res
}

func failureMessage(err error) string {
	var rce *apperrors.RemoteCallError
	if apperrors.As(err, &rce) && rce.Message != "" {
		return rce.Message
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "Failed to send email"
}

// Package session holds the per-run authentication state and the polling
// tasks that belong to it.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
	"algotrader/internal/poller"
)

// Session is created at application start and closed at stop. Workflows
// receive it by reference instead of reading auth state globally.
type Session struct {
	auth   gateway.Auth
	logger zerolog.Logger

	mu     sync.RWMutex
	user   *models.User
	authed bool
	tasks  poller.Group
}

// New creates a session over auth.
func New(auth gateway.Auth, logger zerolog.Logger) *Session {
	return &Session{auth: auth, logger: logger}
}

// Start resolves the current user. An unauthenticated session is not an
// error; RequireUser reports it later.
func (s *Session) Start(ctx context.Context) error {
	ok, err := s.auth.IsAuthenticated(ctx)
	if err != nil {
		return apperrors.Wrap(err, "checking authentication")
	}
	if !ok {
		s.set(nil)
		s.logger.Debug().Msg("Session started without a user")
		return nil
	}

	user, err := s.auth.Me(ctx)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotAuthenticated) {
			s.set(nil)
			return nil
		}
		return apperrors.Wrap(err, "loading current user")
	}
	s.set(user)
	s.logger.Debug().Str("user", user.Email).Str("role", user.Role).Msg("Session started")
	return nil
}

// Login authenticates and loads the user.
func (s *Session) Login(ctx context.Context, email, password string) (string, error) {
	token, err := s.auth.Login(ctx, email, password)
	if err != nil {
		return "", err
	}
	user, err := s.auth.Me(ctx)
	if err != nil {
		return token, apperrors.Wrap(err, "loading current user")
	}
	s.set(user)
	return token, nil
}

func (s *Session) set(user *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = user
	s.authed = user != nil
}

// User returns the signed-in user, or nil.
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

// Authenticated reports whether a user is signed in.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authed
}

// IsAdmin reports whether the signed-in user is an admin.
func (s *Session) IsAdmin() bool {
	return s.User().IsAdmin()
}

// RequireUser returns the signed-in user or ErrNotAuthenticated.
func (s *Session) RequireUser() (*models.User, error) {
	u := s.User()
	if u == nil {
		return nil, apperrors.ErrNotAuthenticated
	}
	return u, nil
}

// RequireAdmin returns a PermissionError unless the user is an admin.
func (s *Session) RequireAdmin(operation string) (*models.User, error) {
	u, err := s.RequireUser()
	if err != nil {
		return nil, err
	}
	if !u.IsAdmin() {
		return nil, apperrors.NewPermissionError(operation, models.RoleAdmin, u.Role)
	}
	return u, nil
}

// Logger returns the session logger.
func (s *Session) Logger() zerolog.Logger {
	return s.logger
}

// Context attaches the session logger to ctx.
func (s *Session) Context(ctx context.Context) context.Context {
	logger := s.logger
	if u := s.User(); u != nil {
		logger = logger.With().Str("user", u.Email).Logger()
	}
	return logging.WithLogger(ctx, logger)
}

// Track registers a polling handle so Close can cancel it.
func (s *Session) Track(h *poller.Handle) *poller.Handle {
	return s.tasks.Add(h)
}

// Tasks returns the number of live tracked tasks.
func (s *Session) Tasks() int {
	return s.tasks.Len()
}

// Close cancels every tracked task and, when logout is set, signs out.
func (s *Session) Close(ctx context.Context, logout bool) error {
	s.tasks.Close()
	if !logout {
		return nil
	}
	err := s.auth.Logout(ctx)
	s.set(nil)
	return err
}

package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"algotrader/internal/backend"
	apperrors "algotrader/internal/errors"
	"algotrader/internal/gateway"
	"algotrader/internal/logging"
	"algotrader/internal/models"
)

const (
	userKey  = "user"
	tokenKey = "token"
)

// authenticate resolves the bearer token into the calling user.
func authenticate(auth *backend.Authenticator, logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
			return
		}
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
			return
		}

		user, err := auth.Verify(c.Request.Context(), token)
		if err != nil {
			logger.Debug().Err(err).Msg("Token validation failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return
		}
		c.Set(userKey, user)
		c.Set(tokenKey, token)
		c.Next()
	}
}

func currentUser(c *gin.Context) *models.User {
	u, _ := c.Get(userKey)
	user, _ := u.(*models.User)
	return user
}

// statusFor maps an error onto the HTTP status the gateway client expects.
func statusFor(err error) int {
	var rce *apperrors.RemoteCallError
	switch {
	case apperrors.Is(err, apperrors.ErrNotAuthenticated), apperrors.Is(err, apperrors.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case apperrors.Classify(err) == apperrors.KindPermission:
		return http.StatusForbidden
	case apperrors.Is(err, apperrors.ErrNotFound), apperrors.Is(err, apperrors.ErrUnknownFunction):
		return http.StatusNotFound
	case apperrors.Classify(err) == apperrors.KindValidation:
		return http.StatusBadRequest
	case apperrors.As(err, &rce):
		if rce.Status == http.StatusServiceUnavailable {
			return rce.Status
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger := logging.FromContext(c.Request.Context())
		logger.Error().Err(err).Msg("Request failed")
	}
	msg := err.Error()
	var rce *apperrors.RemoteCallError
	if apperrors.As(err, &rce) && rce.Message != "" {
		msg = rce.Message
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// bindBody decodes an optional JSON body.
func bindBody(c *gin.Context, out any) error {
	if err := c.ShouldBindJSON(out); err != nil && !errors.Is(err, io.EOF) {
		return apperrors.NewValidationError("body", nil, err.Error())
	}
	return nil
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

func (s *Server) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	token, err := s.backend.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Login failed")
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name"`
}

func (s *Server) register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	user, err := s.backend.Auth.Register(c.Request.Context(), req.Email, req.FullName, req.Password, models.RoleUser)
	if err != nil {
		writeError(c, err)
		return
	}
	s.logger.Info().Str("user_id", user.ID).Msg("User registered")
	c.JSON(http.StatusCreated, user)
}

func (s *Server) me(c *gin.Context) {
	c.JSON(http.StatusOK, currentUser(c))
}

func (s *Server) logout(c *gin.Context) {
	s.backend.Auth.Revoke(c.GetString(tokenKey))
	c.Status(http.StatusNoContent)
}

func entityKind(c *gin.Context) models.EntityKind {
	return models.EntityKind(c.Param("kind"))
}

func (s *Server) listEntities(c *gin.Context) {
	opts := gateway.ListOptions{Sort: c.Query("sort")}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(c, apperrors.NewValidationError("limit", raw, "must be a non-negative integer"))
			return
		}
		opts.Limit = limit
	}

	user := currentUser(c)
	var (
		recs []gateway.Record
		err  error
	)
	if entityKind(c) == models.KindUser {
		recs, err = s.backend.Auth.Users(c.Request.Context(), user, opts)
	} else {
		recs, err = s.backend.Entities.List(c.Request.Context(), user.Email, entityKind(c), opts)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (s *Server) createEntity(c *gin.Context) {
	fields := gateway.Record{}
	if err := bindBody(c, &fields); err != nil {
		writeError(c, err)
		return
	}
	rec, err := s.backend.Entities.Create(c.Request.Context(), currentUser(c).Email, entityKind(c), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) updateEntity(c *gin.Context) {
	fields := gateway.Record{}
	if err := bindBody(c, &fields); err != nil {
		writeError(c, err)
		return
	}
	rec, err := s.backend.Entities.Update(c.Request.Context(), currentUser(c).Email, entityKind(c), c.Param("id"), fields)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Server) deleteEntity(c *gin.Context) {
	if err := s.backend.Entities.Delete(c.Request.Context(), currentUser(c).Email, entityKind(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// invokeFunction answers with the function's envelope at the status the
// registry chose, so a failed call still carries its error text.
func (s *Server) invokeFunction(c *gin.Context) {
	payload := map[string]any{}
	if err := bindBody(c, &payload); err != nil {
		writeError(c, err)
		return
	}
	status, env, err := s.backend.Functions.Invoke(c.Request.Context(), c.Param("name"), backend.Call{
		User:    currentUser(c),
		Payload: payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(status, env)
}

func (s *Server) invokeLLM(c *gin.Context) {
	var req gateway.LLMRequest
	if err := bindBody(c, &req); err != nil {
		writeError(c, err)
		return
	}
	out, err := s.backend.InvokeLLM(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

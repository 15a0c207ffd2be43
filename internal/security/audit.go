package security

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	AuditLogin      AuditEventType = "LOGIN"
	AuditLogout     AuditEventType = "LOGOUT"
	AuditAuthFailed AuditEventType = "AUTH_FAILED"

	AuditOrderPlaced    AuditEventType = "ORDER_PLACED"
	AuditPositionClosed AuditEventType = "POSITION_CLOSED"

	AuditAccountSubmitted AuditEventType = "ACCOUNT_SUBMITTED"
	AuditBankLinked       AuditEventType = "BANK_LINKED"
	AuditBankUnlinked     AuditEventType = "BANK_UNLINKED"
	AuditTransferCreated  AuditEventType = "TRANSFER_CREATED"

	AuditWelcomeEmail AuditEventType = "WELCOME_EMAIL"

	AuditReadOnlyViolation AuditEventType = "READ_ONLY_VIOLATION"
)

// AuditEvent represents a single audit log entry.
type AuditEvent struct {
	Timestamp time.Time              `json:"timestamp"`
	EventType AuditEventType         `json:"event_type"`
	UserID    string                 `json:"user_id,omitempty"`
	Symbol    string                 `json:"symbol,omitempty"`
	OrderID   string                 `json:"order_id,omitempty"`
	Action    string                 `json:"action,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// AuditLogger writes one JSON line per audited action.
type AuditLogger struct {
	writer    io.WriteCloser
	mu        sync.Mutex
	sessionID string
	userID    string
	now       func() time.Time
}

// AuditConfig holds audit logger configuration.
type AuditConfig struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	home, _ := os.UserHomeDir()
	return AuditConfig{
		LogDir:     filepath.Join(home, ".config", "algotrader", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// NewAuditLogger creates a rotating file audit logger.
func NewAuditLogger(cfg AuditConfig) (*AuditLogger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return NewAuditLoggerWithWriter(&lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "audit.log"),
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// NewAuditLoggerWithWriter creates an audit logger over w.
func NewAuditLoggerWithWriter(w io.WriteCloser) *AuditLogger {
	return &AuditLogger{
		writer:    w,
		sessionID: uuid.NewString(),
		now:       time.Now,
	}
}

// SetUserID sets the user ID for audit events.
func (al *AuditLogger) SetUserID(userID string) {
	al.mu.Lock()
	defer al.mu.Unlock()
	al.userID = userID
}

// SessionID returns the id stamped on every event of this process.
func (al *AuditLogger) SessionID() string {
	return al.sessionID
}

// Log logs an audit event. Detail values are masked before writing.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if al == nil {
		return nil
	}
	al.mu.Lock()
	defer al.mu.Unlock()

	event.Timestamp = al.now().UTC()
	event.SessionID = al.sessionID
	if event.UserID == "" {
		event.UserID = al.userID
	}
	if len(event.Details) > 0 {
		event.Details = LogWithoutCredentials(event.Details)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("serializing audit event: %w", err)
	}
	if _, err := al.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return nil
}

// Record logs an action outcome with details.
func (al *AuditLogger) Record(ctx context.Context, typ AuditEventType, details map[string]interface{}, err error) error {
	event := AuditEvent{EventType: typ, Details: details, Success: err == nil}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return al.Log(ctx, event)
}

// LogLogin logs a login attempt.
func (al *AuditLogger) LogLogin(ctx context.Context, userID string, success bool, errorMsg string) error {
	typ := AuditLogin
	if !success {
		typ = AuditAuthFailed
	}
	return al.Log(ctx, AuditEvent{
		EventType: typ,
		UserID:    userID,
		Success:   success,
		ErrorMsg:  errorMsg,
	})
}

// LogLogout logs a logout event.
func (al *AuditLogger) LogLogout(ctx context.Context, userID string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditLogout,
		UserID:    userID,
		Success:   true,
	})
}

// LogOrderPlaced logs an order placement event.
func (al *AuditLogger) LogOrderPlaced(ctx context.Context, orderID, symbol, side, qty, orderType string, err error) error {
	event := AuditEvent{
		EventType: AuditOrderPlaced,
		OrderID:   orderID,
		Symbol:    symbol,
		Action:    side,
		Success:   err == nil,
		Details: map[string]interface{}{
			"quantity":   qty,
			"order_type": orderType,
		},
	}
	if err != nil {
		event.ErrorMsg = err.Error()
	}
	return al.Log(ctx, event)
}

// LogReadOnlyViolation logs an attempt to perform a write operation in read-only mode.
func (al *AuditLogger) LogReadOnlyViolation(ctx context.Context, operation string) error {
	return al.Log(ctx, AuditEvent{
		EventType: AuditReadOnlyViolation,
		Action:    operation,
		Success:   false,
		ErrorMsg:  "operation blocked: read-only mode enabled",
	})
}

// Close closes the audit logger.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	return al.writer.Close()
}

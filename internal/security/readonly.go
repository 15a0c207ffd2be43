// Package security provides read-only mode, audit logging and masking of
// sensitive values.
package security

import (
	"context"
	"fmt"
	"sync"

	apperrors "algotrader/internal/errors"
)

// OperationType represents the type of operation.
type OperationType string

const (
	OpRead OperationType = "READ"

	// Write operations (blocked in read-only mode)
	OpPlaceOrder     OperationType = "PLACE_ORDER"
	OpClosePosition  OperationType = "CLOSE_POSITION"
	OpCreateTransfer OperationType = "CREATE_TRANSFER"
	OpLinkBank       OperationType = "LINK_BANK"
	OpUnlinkBank     OperationType = "UNLINK_BANK"
	OpSubmitAccount  OperationType = "SUBMIT_ACCOUNT"
	OpSendEmail      OperationType = "SEND_EMAIL"
)

// ReadOnlyError represents an error when attempting a write operation in read-only mode.
type ReadOnlyError struct {
	Operation OperationType
}

func (e *ReadOnlyError) Error() string {
	return fmt.Sprintf("operation %s blocked: read-only mode is enabled", e.Operation)
}

// Unwrap lets callers match apperrors.ErrReadOnlyMode.
func (e *ReadOnlyError) Unwrap() error {
	return apperrors.ErrReadOnlyMode
}

// AccessController manages read-only mode and operation permissions.
type AccessController struct {
	readOnly    bool
	auditLogger *AuditLogger
	mu          sync.RWMutex
}

// NewAccessController creates a new access controller. auditLogger may be nil.
func NewAccessController(readOnly bool, auditLogger *AuditLogger) *AccessController {
	return &AccessController{
		readOnly:    readOnly,
		auditLogger: auditLogger,
	}
}

// IsReadOnly returns whether read-only mode is enabled.
func (ac *AccessController) IsReadOnly() bool {
	if ac == nil {
		return false
	}
	ac.mu.RLock()
	defer ac.mu.RUnlock()
	return ac.readOnly
}

// SetReadOnly sets the read-only mode.
func (ac *AccessController) SetReadOnly(readOnly bool) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.readOnly = readOnly
}

// Audit returns the audit logger, which may be nil.
func (ac *AccessController) Audit() *AuditLogger {
	if ac == nil {
		return nil
	}
	return ac.auditLogger
}

// CheckPermission checks if an operation is allowed. A nil controller
// allows everything.
func (ac *AccessController) CheckPermission(ctx context.Context, op OperationType) error {
	if ac == nil {
		return nil
	}
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	if !ac.readOnly || !isWriteOperation(op) {
		return nil
	}
	if ac.auditLogger != nil {
		_ = ac.auditLogger.LogReadOnlyViolation(ctx, string(op))
	}
	return &ReadOnlyError{Operation: op}
}

func isWriteOperation(op OperationType) bool {
	for _, w := range WriteOperations() {
		if op == w {
			return true
		}
	}
	return false
}

// WriteOperations returns a list of all write operations.
func WriteOperations() []OperationType {
	return []OperationType{
		OpPlaceOrder,
		OpClosePosition,
		OpCreateTransfer,
		OpLinkBank,
		OpUnlinkBank,
		OpSubmitAccount,
		OpSendEmail,
	}
}

// OperationDescription returns a human-readable description of an operation.
func OperationDescription(op OperationType) string {
	switch op {
	case OpRead:
		return "Read data"
	case OpPlaceOrder:
		return "Place order"
	case OpClosePosition:
		return "Close position"
	case OpCreateTransfer:
		return "Move funds"
	case OpLinkBank:
		return "Link bank account"
	case OpUnlinkBank:
		return "Remove bank account"
	case OpSubmitAccount:
		return "Submit brokerage application"
	case OpSendEmail:
		return "Send email"
	default:
		return string(op)
	}
}

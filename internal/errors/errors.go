// Package errors provides the error taxonomy shared by the workflows.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated       = errors.New("not authenticated")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrNotFound               = errors.New("record not found")
	ErrAllFailed              = errors.New("all items in the batch failed")
	ErrNoActiveStrategies     = errors.New("no active strategies found")
	ErrNoApprovedRelationship = errors.New("no approved bank relationship")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrTradeClosed            = errors.New("trade is already closed")
	ErrAccountNotReady        = errors.New("brokerage account is not approved")
	ErrUnknownFunction        = errors.New("unknown remote function")
	ErrReadOnlyMode           = errors.New("operation blocked: read-only mode enabled")
	ErrConfigInvalid          = errors.New("invalid configuration")
	ErrCircuitOpen            = errors.New("gateway unavailable: circuit open")
)

// ValidationError represents a local input check that failed before any
// remote call was made.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Value == nil || e.Value == "" {
		return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Message: message,
	}
}

// IncompleteAIResponseError is returned when a structured LLM response lacks
// fields the caller cannot do without.
type IncompleteAIResponseError struct {
	Operation string
	Missing   []string
}

func (e *IncompleteAIResponseError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("incomplete AI response for %s", e.Operation)
	}
	return fmt.Sprintf("incomplete AI response for %s: missing %s", e.Operation, strings.Join(e.Missing, ", "))
}

// NewIncompleteAIResponseError creates a new IncompleteAIResponseError.
func NewIncompleteAIResponseError(operation string, missing ...string) *IncompleteAIResponseError {
	return &IncompleteAIResponseError{
		Operation: operation,
		Missing:   missing,
	}
}

// RemoteCallError represents a failure talking to the gateway or a remote
// function behind it.
type RemoteCallError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *RemoteCallError) Error() string {
	var b strings.Builder
	b.WriteString("remote call ")
	b.WriteString(e.Op)
	if e.Status != 0 {
		fmt.Fprintf(&b, " [%d]", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// NewRemoteCallError creates a new RemoteCallError.
func NewRemoteCallError(op string, status int, message string, err error) *RemoteCallError {
	return &RemoteCallError{
		Op:      op,
		Status:  status,
		Message: message,
		Err:     err,
	}
}

// PersistenceError wraps a failure to store an entity through the gateway.
type PersistenceError struct {
	Entity string
	Err    error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Entity, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(entity string, err error) *PersistenceError {
	return &PersistenceError{
		Entity: entity,
		Err:    err,
	}
}

// PermissionError is returned when the current user lacks the role an
// operation requires.
type PermissionError struct {
	Operation string
	Required  string
	Actual    string
}

func (e *PermissionError) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("permission denied: %s requires role %q", e.Operation, e.Required)
	}
	return fmt.Sprintf("permission denied: %s requires role %q (have %q)", e.Operation, e.Required, e.Actual)
}

// NewPermissionError creates a new PermissionError.
func NewPermissionError(operation, required, actual string) *PermissionError {
	return &PermissionError{
		Operation: operation,
		Required:  required,
		Actual:    actual,
	}
}

// Kind is the coarse classification surfaced to users.
type Kind string

const (
	KindNone                 Kind = ""
	KindValidation           Kind = "validation"
	KindIncompleteAIResponse Kind = "incomplete_ai_response"
	KindPersistence          Kind = "persistence"
	KindRemoteCall           Kind = "remote_call"
	KindPermission           Kind = "permission"
	KindUnknown              Kind = "unknown"
)

// Classify maps err onto the taxonomy. Persistence is checked before remote
// calls because a persistence failure usually wraps one.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var (
		ve *ValidationError
		ie *IncompleteAIResponseError
		pe *PersistenceError
		re *RemoteCallError
		pm *PermissionError
	)

	switch {
	case errors.As(err, &pm):
		return KindPermission
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ie):
		return KindIncompleteAIResponse
	case errors.As(err, &pe):
		return KindPersistence
	case errors.As(err, &re), errors.Is(err, ErrCircuitOpen):
		return KindRemoteCall
	default:
		return KindUnknown
	}
}

// Banner is the user-visible rendering of a workflow error. Fatal banners
// replace the current view; the rest are dismissible.
type Banner struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Fatal   bool   `json:"fatal"`
}

// BannerFor builds the banner for err, or nil when err is nil.
func BannerFor(err error) *Banner {
	if err == nil {
		return nil
	}
	kind := Classify(err)
	return &Banner{
		Kind:    kind,
		Message: err.Error(),
		Fatal:   kind == KindPermission,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New returns an error that formats as the given text.
func New(text string) error {
	return errors.New(text)
}

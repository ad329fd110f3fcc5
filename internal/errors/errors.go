// Package errors provides centralized error definitions and error handling utilities
// for odooctl. It defines the errors produced by the request pipeline, the credential
// session and the task poller, together with classification helpers used to decide
// what reaches the user and how loudly.
//
// # Error Types
//
// Domain errors describe failures of a specific subsystem:
//   - APIError: a remote call failed (transport error or non-2xx response)
//   - AuthError: the credential session could not be used or renewed
//   - PollError: the poller stopped trying to learn a task's outcome
//   - TaskFailedError: the remote task itself reached the failed status
//
// Semantic errors describe common conditions:
//   - NotFoundError: resource not found
//   - ValidationError: invalid input
//
// # Usage
//
//	if errors.Is(err, errors.ErrLoginRequired) { ... }
//
//	var apiErr *errors.APIError
//	if errors.As(err, &apiErr) && apiErr.Status == 409 { ... }
//
//	if errors.IsUserFacing(err) {
//	    fmt.Println(errors.UserMessage(err))
//	}
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Authentication sentinel errors
var (
	// ErrUnauthenticated indicates that no access token is stored.
	ErrUnauthenticated = New("not logged in")
	// ErrLoginRequired indicates that the session ended and the user must log in again.
	ErrLoginRequired = New("login required")
	// ErrNoRefreshToken indicates that a refresh was needed but no refresh token is stored.
	ErrNoRefreshToken = New("no refresh token stored")
	// ErrRefreshFailed indicates that the refresh endpoint rejected the refresh token.
	ErrRefreshFailed = New("token refresh failed")
)

// Transport sentinel errors
var (
	// ErrNetwork indicates that no response was received from the API.
	ErrNetwork = New("network error")
	// ErrServiceUnavailable indicates a 503 response.
	ErrServiceUnavailable = New("service unavailable")
	// ErrConflict indicates a 409 response.
	ErrConflict = New("conflict")
)

// Polling sentinel errors
var (
	// ErrPollTimeout indicates that polling exceeded its total time budget.
	ErrPollTimeout = New("task polling timed out")
	// ErrPollExhausted indicates that polling exceeded its consecutive error budget.
	ErrPollExhausted = New("task polling error budget exhausted")
	// ErrPollerBusy indicates that a poller was asked to start while already tracking.
	ErrPollerBusy = New("poller is already tracking a task")
)

// Task sentinel errors
var (
	// ErrTaskNotFound indicates that a task could not be found.
	ErrTaskNotFound = New("task not found")
	// ErrTaskFailed indicates that a remote task finished with the failed status.
	ErrTaskFailed = New("task failed")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ClassifiedError is the base interface for all odooctl errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ClassifiedError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// FieldError is one entry of a structured validation error response.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}

// String renders the entry as "field: message", or just the message when the
// field is unknown.
func (f FieldError) String() string {
	if f.Field == "" {
		return f.Message
	}
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// APIError represents a failed remote call. Status is 0 when no response was
// received at all.
//
// Example:
//
//	err := errors.NewAPIError("GET", "/tasks/abc", 503, "Service temporarily unavailable")
//	fmt.Println(err) // "api error [GET /tasks/abc, status=503]: Service temporarily unavailable"
type APIError struct {
	baseError
	Method      string
	Path        string
	Status      int
	Detail      string
	FieldErrors []FieldError
}

// NewAPIError creates a new APIError. message is the human-readable text that
// will be shown to the user.
func NewAPIError(method, path string, status int, message string) *APIError {
	return &APIError{
		baseError: baseError{
			message:    message,
			severity:   severityForStatus(status),
			retryable:  retryableStatus(status),
			userFacing: true,
		},
		Method: method,
		Path:   path,
		Status: status,
	}
}

// WithCause adds a cause to the error.
func (e *APIError) WithCause(cause error) *APIError {
	e.cause = cause
	return e
}

// WithDetail records the raw detail field of the error body.
func (e *APIError) WithDetail(detail string) *APIError {
	e.Detail = detail
	return e
}

// WithFieldErrors records structured validation errors from the error body.
func (e *APIError) WithFieldErrors(fields []FieldError) *APIError {
	e.FieldErrors = fields
	return e
}

// Message returns the human-readable message without any context prefix.
func (e *APIError) Message() string {
	return e.message
}

// IsNetwork reports whether the call failed before any response was received.
func (e *APIError) IsNetwork() bool {
	return e.Status == 0
}

// Error returns the formatted error message.
func (e *APIError) Error() string {
	var parts []string
	if e.Method != "" || e.Path != "" {
		parts = append(parts, strings.TrimSpace(e.Method+" "+e.Path))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}

	prefix := "api error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("api error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *APIError) Is(target error) bool {
	if _, ok := target.(*APIError); ok {
		return true
	}
	switch {
	case target == ErrNetwork:
		return e.Status == 0
	case target == ErrServiceUnavailable:
		return e.Status == 503
	case target == ErrConflict:
		return e.Status == 409
	case target == ErrTaskNotFound:
		return e.Status == 404 && strings.Contains(e.Path, "/tasks/")
	}
	return e.baseError.Is(target)
}

func severityForStatus(status int) Severity {
	switch {
	case status >= 500:
		return SeverityCritical
	case status == 409:
		return SeverityWarning
	default:
		return SeverityError
	}
}

func retryableStatus(status int) bool {
	switch status {
	case 0, 429, 502, 503, 504:
		return true
	}
	return false
}

// AuthError represents a failure of the credential session: missing tokens or
// a refresh that could not be completed.
//
// Example:
//
//	err := errors.NewAuthError("session expired", errors.ErrRefreshFailed)
//	fmt.Println(err) // "auth error: session expired: token refresh failed"
type AuthError struct {
	baseError
}

// NewAuthError creates a new AuthError.
func NewAuthError(message string, cause error) *AuthError {
	return &AuthError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// Error returns the formatted error message.
func (e *AuthError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("auth error: %s: %v", e.message, e.cause)
	}
	return fmt.Sprintf("auth error: %s", e.message)
}

// Is checks if this error matches the target. Every AuthError means the user
// has to log in again.
func (e *AuthError) Is(target error) bool {
	if _, ok := target.(*AuthError); ok {
		return true
	}
	if target == ErrLoginRequired {
		return true
	}
	return e.baseError.Is(target)
}

// PollReason tells why a poller gave up.
type PollReason string

const (
	// PollReasonTimeout means the total time budget elapsed.
	PollReasonTimeout PollReason = "timeout"
	// PollReasonExhausted means the consecutive error budget was used up.
	PollReasonExhausted PollReason = "exhausted"
	// PollReasonSignedOut means a lookup found the session ended.
	PollReasonSignedOut PollReason = "signed_out"
)

// PollError is reported by the task poller when it stops trying to find out a
// task's outcome. It is distinct from TaskFailedError: the remote operation may
// still be running.
type PollError struct {
	baseError
	TaskID   string
	Reason   PollReason
	Attempts int
	Elapsed  time.Duration
}

// NewPollTimeoutError creates a PollError for an elapsed time budget.
func NewPollTimeoutError(taskID string, timeout time.Duration) *PollError {
	return &PollError{
		baseError: baseError{
			message:    fmt.Sprintf("Task polling timed out after %s", timeout),
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		TaskID:  taskID,
		Reason:  PollReasonTimeout,
		Elapsed: timeout,
	}
}

// NewPollExhaustedError creates a PollError for a used-up error budget.
func NewPollExhaustedError(taskID string, attempts int, lastErr error) *PollError {
	return &PollError{
		baseError: baseError{
			message:    fmt.Sprintf("Task polling failed after %d attempts", attempts),
			cause:      lastErr,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		TaskID:   taskID,
		Reason:   PollReasonExhausted,
		Attempts: attempts,
	}
}

// NewPollSignedOutError creates a PollError for a lookup refused because the
// session ended. cause is the lookup's AuthError.
func NewPollSignedOutError(taskID string, attempts int, cause error) *PollError {
	return &PollError{
		baseError: baseError{
			message:    "Task polling stopped: login required",
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		TaskID:   taskID,
		Reason:   PollReasonSignedOut,
		Attempts: attempts,
	}
}

// Error returns the user-facing message. The last lookup error is available
// through Unwrap but is not repeated here.
func (e *PollError) Error() string {
	return e.message
}

// Is checks if this error matches the target.
func (e *PollError) Is(target error) bool {
	if _, ok := target.(*PollError); ok {
		return true
	}
	switch target {
	case ErrPollTimeout, ErrTimeout:
		return e.Reason == PollReasonTimeout
	case ErrPollExhausted:
		return e.Reason == PollReasonExhausted
	}
	return e.baseError.Is(target)
}

// TaskFailedError represents a remote task that finished with the failed status.
//
// Example:
//
//	err := errors.NewTaskFailedError("abc", "run_backup", "disk full")
//	fmt.Println(err) // "task run_backup [abc] failed: disk full"
type TaskFailedError struct {
	baseError
	TaskID string
	Kind   string
}

// NewTaskFailedError creates a new TaskFailedError. summary is the unwrapped
// result payload, if any.
func NewTaskFailedError(taskID, kind, summary string) *TaskFailedError {
	return &TaskFailedError{
		baseError: baseError{
			message:    summary,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
		TaskID: taskID,
		Kind:   kind,
	}
}

// Summary returns the unwrapped failure text reported by the task.
func (e *TaskFailedError) Summary() string {
	return e.message
}

// Error returns the formatted error message.
func (e *TaskFailedError) Error() string {
	name := "task"
	if e.Kind != "" {
		name = "task " + e.Kind
	}
	if e.TaskID != "" {
		name = fmt.Sprintf("%s [%s]", name, e.TaskID)
	}
	if e.message == "" {
		return name + " failed"
	}
	return fmt.Sprintf("%s failed: %s", name, e.message)
}

// Is checks if this error matches the target.
func (e *TaskFailedError) Is(target error) bool {
	if _, ok := target.(*TaskFailedError); ok {
		return true
	}
	if target == ErrTaskFailed {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// NotFoundError represents a resource that could not be found.
//
// Example:
//
//	err := errors.NewNotFoundError("task", "abc123")
//	fmt.Println(err) // "task 'abc123' not found"
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *NotFoundError) WithCause(cause error) *NotFoundError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s '%s' not found", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	if target == ErrTaskNotFound && e.ResourceType == "task" {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input.
//
// Example:
//
//	err := errors.NewValidationError("email is required").WithField("email")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsRetryable()
	}

	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var classified ClassifiedError
	if As(err, &classified) {
		return classified.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ClassifiedError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var classified ClassifiedError
	if As(err, &classified) {
		return classified.Severity()
	}
	return SeverityError
}

// StatusCode returns the HTTP status of the first APIError in the chain, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// UserMessage returns the text that should be shown to a person for err.
// API errors yield their extracted message; other user-facing errors their
// Error text; anything else a generic fallback.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var apiErr *APIError
	if As(err, &apiErr) {
		return apiErr.Message()
	}
	var authErr *AuthError
	if As(err, &authErr) {
		return "Your session has expired. Please log in again."
	}
	if IsUserFacing(err) {
		return err.Error()
	}
	return "An unexpected error occurred"
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves nil.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to save credentials")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to track task %s", taskID)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

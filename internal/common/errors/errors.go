// Package errors provides the standardized error taxonomy shared by the HTTP
// API and the workflow-engine workers.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Workflow errors
const (
	ErrCodePermissionDenied       ErrorCode = "PERMISSION_DENIED"
	ErrCodeInvalidTransition      ErrorCode = "INVALID_TRANSITION"
	ErrCodeValidation             ErrorCode = "VALIDATION_ERROR"
	ErrCodeBookingNotEligible     ErrorCode = "BOOKING_NOT_ELIGIBLE"
	ErrCodeApplicationNotFound    ErrorCode = "APPLICATION_NOT_FOUND"
	ErrCodeNotFound               ErrorCode = "NOT_FOUND"
	ErrCodeConcurrentModification ErrorCode = "CONCURRENT_MODIFICATION"
)

// Infrastructure errors
const (
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeQueryExecutionFailed     ErrorCode = "QUERY_EXECUTION_FAILED"
	ErrCodeNotificationSendFailed   ErrorCode = "NOTIFICATION_SEND_FAILED"
	ErrCodeIndexingFailed           ErrorCode = "INDEXING_FAILED"
	ErrCodeExternalService          ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	cause     error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches a key/value pair and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewPermissionDeniedError is returned when the actor lacks the role or the
// ownership link required for an action.
func NewPermissionDeniedError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodePermissionDenied,
		Message:   "You do not have permission to perform this action",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInvalidTransitionError is a recoverable warning: the operation was a no-op.
func NewInvalidTransitionError(action, from string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidTransition,
		Message:   fmt.Sprintf("Cannot %s an application in %s status", action, from),
		Details:   fmt.Sprintf("action: %s, status: %s", action, from),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewValidationError reports malformed input.
func NewValidationError(field, message string) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidation,
		Message:   message,
		Details:   fmt.Sprintf("field: %s", field),
		Retryable: false,
		Metadata:  map[string]interface{}{"field": field},
		Timestamp: time.Now().UTC(),
	}
}

// NewBookingNotEligibleError is a validation error for the paid-booking precondition.
func NewBookingNotEligibleError(bookingID, details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeBookingNotEligible,
		Message:   "Booking must be paid with a captured payment before an application can be created",
		Details:   fmt.Sprintf("bookingId: %s, %s", bookingID, details),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewApplicationNotFoundError(applicationID string) *StandardError {
	return &StandardError{
		Code:      ErrCodeApplicationNotFound,
		Message:   "Application not found",
		Details:   fmt.Sprintf("applicationId: %s", applicationID),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewNotFoundError(resource, id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotFound,
		Message:   fmt.Sprintf("%s not found", resource),
		Details:   fmt.Sprintf("%s: %s", resource, id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewConcurrentModificationError is returned when the optimistic version
// check fails; the caller should reload and retry.
func NewConcurrentModificationError(applicationID string, expectedVersion int64) *StandardError {
	return &StandardError{
		Code:      ErrCodeConcurrentModification,
		Message:   "Application was modified by another request, please reload and try again",
		Details:   fmt.Sprintf("applicationId: %s, expectedVersion: %d", applicationID, expectedVersion),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// NewQueryExecutionFailedError wraps a storage failure.
func NewQueryExecutionFailedError(queryType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueryExecutionFailed,
		Message:   "Database query execution error",
		Details:   fmt.Sprintf("queryType: %s, error: %s", queryType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationSendFailedError(notificationType string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationSendFailed,
		Message:   "Notification delivery failed",
		Details:   fmt.Sprintf("type: %s, error: %s", notificationType, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewIndexingFailedError(index string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeIndexingFailed,
		Message:   "Reporting index update failed",
		Details:   fmt.Sprintf("index: %s, error: %s", index, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("%s is unavailable", service),
		Details:   err.Error(),
		Retryable: true,
		Metadata:  map[string]interface{}{"service": service},
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Classification
// ==========================

// AsStandard extracts a *StandardError from any error chain.
func AsStandard(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if stderrors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

// CodeOf returns the error code, or INTERNAL_ERROR for foreign errors.
func CodeOf(err error) ErrorCode {
	if stdErr, ok := AsStandard(err); ok {
		return stdErr.Code
	}
	return ErrCodeInternal
}

func IsPermissionDenied(err error) bool {
	return err != nil && CodeOf(err) == ErrCodePermissionDenied
}

func IsInvalidTransition(err error) bool {
	return err != nil && CodeOf(err) == ErrCodeInvalidTransition
}

// IsValidation covers every malformed-input code.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeValidation, ErrCodeBookingNotEligible:
		return true
	}
	return false
}

func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case ErrCodeApplicationNotFound, ErrCodeNotFound:
		return true
	}
	return false
}

// IsWarning reports errors that should be shown as a warning rather than a
// failure: nothing was changed and nothing is broken.
func IsWarning(err error) bool {
	return IsInvalidTransition(err)
}

// HTTPStatus maps an error code to the response status used by JSON clients.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodePermissionDenied:
		return http.StatusForbidden
	case ErrCodeInvalidTransition, ErrCodeConcurrentModification:
		return http.StatusConflict
	case ErrCodeValidation, ErrCodeBookingNotEligible:
		return http.StatusUnprocessableEntity
	case ErrCodeApplicationNotFound, ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeDatabaseConnectionFailed, ErrCodeExternalService:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. BPMN Mapping
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodePermissionDenied:         "PERMISSION_DENIED",
	ErrCodeInvalidTransition:        "INVALID_TRANSITION",
	ErrCodeValidation:               "VALIDATION_ERROR",
	ErrCodeBookingNotEligible:       "BOOKING_NOT_ELIGIBLE",
	ErrCodeApplicationNotFound:      "APPLICATION_NOT_FOUND",
	ErrCodeNotFound:                 "NOT_FOUND",
	ErrCodeConcurrentModification:   "CONCURRENT_MODIFICATION",
	ErrCodeDatabaseConnectionFailed: "DATABASE_CONNECTION_FAILED",
	ErrCodeQueryExecutionFailed:     "QUERY_EXECUTION_FAILED",
	ErrCodeNotificationSendFailed:   "NOTIFICATION_SEND_FAILED",
	ErrCodeExternalService:          "EXTERNAL_SERVICE_ERROR",
}

func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeQueryExecutionFailed,
		ErrCodeNotificationSendFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeConcurrentModification:
		return 2

	default:
		return 0 // Business errors: no retry
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "PERMISSION"):
		return "AUTHORIZATION"
	case strings.Contains(codeStr, "TRANSITION") || strings.Contains(codeStr, "CONCURRENT"):
		return "WORKFLOW"
	case strings.Contains(codeStr, "DATABASE") || strings.Contains(codeStr, "QUERY"):
		return "DATABASE"
	case strings.Contains(codeStr, "NOTIFICATION"):
		return "NOTIFICATION"
	case strings.Contains(codeStr, "INDEX"):
		return "REPORTING"
	case strings.Contains(codeStr, "VALIDATION") || strings.Contains(codeStr, "BOOKING"):
		return "VALIDATION"
	case strings.Contains(codeStr, "NOT_FOUND"):
		return "NOT_FOUND"
	case strings.Contains(codeStr, "EXTERNAL"):
		return "EXTERNAL"
	default:
		return "OTHER"
	}
}

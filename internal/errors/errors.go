// Package errors provides the typed errors returned by engines and mapped to
// HTTP responses by the API layer.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// AppError is implemented by every error that carries an HTTP status
type AppError interface {
	error
	HTTPStatus() int
	Code() string
}

// BaseError is the base implementation of AppError
type BaseError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	ErrorCode  string `json:"code"`
	Details    string `json:"details,omitempty"`
}

func (e *BaseError) Error() string {
	return e.Message
}

func (e *BaseError) HTTPStatus() int {
	return e.StatusCode
}

func (e *BaseError) Code() string {
	return e.ErrorCode
}

// NotFoundError represents a missing record
type NotFoundError struct {
	BaseError
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	msg := fmt.Sprintf("%s not found", resource)
	if id != "" {
		msg = fmt.Sprintf("%s %s not found", resource, id)
	}
	return &NotFoundError{
		BaseError: BaseError{
			Message:    msg,
			StatusCode: http.StatusNotFound,
			ErrorCode:  "NOT_FOUND",
		},
		Resource: resource,
		ID:       id,
	}
}

// ValidationError represents invalid input on one field
type ValidationError struct {
	BaseError
	Field string
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusUnprocessableEntity,
			ErrorCode:  "VALIDATION_ERROR",
			Details:    field,
		},
		Field: field,
	}
}

// PermissionDeniedError represents a forbidden action
type PermissionDeniedError struct {
	BaseError
	Action   string
	Resource string
}

func NewPermissionDeniedError(action, resource string) *PermissionDeniedError {
	return &PermissionDeniedError{
		BaseError: BaseError{
			Message:    "permission denied",
			StatusCode: http.StatusForbidden,
			ErrorCode:  "PERMISSION_DENIED",
		},
		Action:   action,
		Resource: resource,
	}
}

// UnauthorizedError represents an authentication error
type UnauthorizedError struct {
	BaseError
}

func NewUnauthorizedError(message string) *UnauthorizedError {
	if message == "" {
		message = "authentication required"
	}
	return &UnauthorizedError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusUnauthorized,
			ErrorCode:  "UNAUTHORIZED",
		},
	}
}

// InternalError wraps an unexpected failure. Its message never leaks the
// wrapped error to clients.
type InternalError struct {
	BaseError
	OriginalError error
}

func NewInternalError(original error) *InternalError {
	return &InternalError{
		BaseError: BaseError{
			Message:    "internal server error",
			StatusCode: http.StatusInternalServerError,
			ErrorCode:  "INTERNAL_ERROR",
		},
		OriginalError: original,
	}
}

func (e *InternalError) Unwrap() error {
	return e.OriginalError
}

// ConflictError represents a state conflict: a duplicate, an occupied
// apartment, an application that was already decided.
type ConflictError struct {
	BaseError
	Resource string
}

func NewConflictError(resource, message string) *ConflictError {
	if message == "" {
		message = fmt.Sprintf("%s already exists", resource)
	}
	return &ConflictError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusConflict,
			ErrorCode:  "CONFLICT",
		},
		Resource: resource,
	}
}

// BadRequestError represents a malformed request
type BadRequestError struct {
	BaseError
}

func NewBadRequestError(message string) *BadRequestError {
	return &BadRequestError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusBadRequest,
			ErrorCode:  "BAD_REQUEST",
		},
	}
}

// TooManyRequestsError is returned when a rate limit is exceeded
type TooManyRequestsError struct {
	BaseError
}

func NewTooManyRequestsError(message string) *TooManyRequestsError {
	if message == "" {
		message = "too many requests"
	}
	return &TooManyRequestsError{
		BaseError: BaseError{
			Message:    message,
			StatusCode: http.StatusTooManyRequests,
			ErrorCode:  "RATE_LIMITED",
		},
	}
}

// IsNotFound reports whether err wraps a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return stderrors.As(err, &nf)
}

// IsConflict reports whether err wraps a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return stderrors.As(err, &ce)
}

// IsValidation reports whether err wraps a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return stderrors.As(err, &ve)
}

// Status returns the HTTP status err maps to
func Status(err error) int {
	status, _ := ToHTTPError(err)
	return status
}

// ToHTTPError converts any error to an appropriate HTTP response
func ToHTTPError(err error) (int, map[string]interface{}) {
	if err == nil {
		return http.StatusOK, nil
	}

	var ae AppError
	if stderrors.As(err, &ae) {
		body := map[string]interface{}{
			"error":   ae.Code(),
			"message": ae.Error(),
		}
		var ve *ValidationError
		if stderrors.As(err, &ve) && ve.Field != "" {
			body["field"] = ve.Field
		}
		return ae.HTTPStatus(), body
	}

	// Unknown errors never expose their text
	return http.StatusInternalServerError, map[string]interface{}{
		"error":   "INTERNAL_ERROR",
		"message": "internal server error",
	}
}

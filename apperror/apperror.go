// Package apperror provides a standardized way to handle and represent application-specific errors.
// Every service in postboard returns an *AppError so the HTTP layer can pick a status code and a
// JSON body without knowing where the error came from.
package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorType categorizes application errors. Each type maps to exactly one HTTP status code.
type ErrorType int

const (
	UnknownError ErrorType = iota
	DatabaseError
	ConfigError
	AuthError      // caller is not authenticated (401)
	ForbiddenError // caller is authenticated but the role forbids the action (403)
	NotFoundError
	ValidationError
	BadRequestError
	InternalError
	ExternalServiceError
	MigrationError
	ConflictError
	MethodNotAllowedError
)

// AppError is the error type returned by services and middleware.
type AppError struct {
	Type    ErrorType
	Message string
	// Fields holds per-field validation messages keyed by JSON field name.
	Fields map[string][]string
	Err    error // Underlying error, never sent to clients
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status code for the error type.
func (e *AppError) StatusCode() int {
	switch e.Type {
	case AuthError:
		return http.StatusUnauthorized
	case ForbiddenError:
		return http.StatusForbidden
	case NotFoundError:
		return http.StatusNotFound
	case ValidationError, BadRequestError:
		return http.StatusBadRequest
	case ConflictError:
		return http.StatusConflict
	case MethodNotAllowedError:
		return http.StatusMethodNotAllowed
	case ExternalServiceError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// WithField attaches a field-level message and returns the same error for chaining.
func (e *AppError) WithField(field, message string) *AppError {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
	return e
}

func NewAppError(errType ErrorType, message string, underlyingError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     underlyingError,
	}
}

func NewDatabaseError(message string, underlyingError error) *AppError {
	return NewAppError(DatabaseError, message, underlyingError)
}

func NewConfigError(message string, underlyingError error) *AppError {
	return NewAppError(ConfigError, message, underlyingError)
}

func NewAuthError(message string, underlyingError error) *AppError {
	return NewAppError(AuthError, message, underlyingError)
}

func NewForbiddenError(message string, underlyingError error) *AppError {
	return NewAppError(ForbiddenError, message, underlyingError)
}

func NewNotFoundError(message string, underlyingError error) *AppError {
	return NewAppError(NotFoundError, message, underlyingError)
}

func NewValidationError(message string, underlyingError error) *AppError {
	return NewAppError(ValidationError, message, underlyingError)
}

// NewFieldError is a validation error carrying a single field message.
func NewFieldError(field, message string) *AppError {
	return NewValidationError("validation failed", nil).WithField(field, message)
}

func NewBadRequestError(message string, underlyingError error) *AppError {
	return NewAppError(BadRequestError, message, underlyingError)
}

func NewInternalError(message string, underlyingError error) *AppError {
	return NewAppError(InternalError, message, underlyingError)
}

func NewExternalServiceError(message string, underlyingError error) *AppError {
	return NewAppError(ExternalServiceError, message, underlyingError)
}

func NewMigrationError(message string, underlyingError error) *AppError {
	return NewAppError(MigrationError, message, underlyingError)
}

func NewConflictError(message string, underlyingError error) *AppError {
	return NewAppError(ConflictError, message, underlyingError)
}

func NewMethodNotAllowedError(method string) *AppError {
	return NewAppError(MethodNotAllowedError, fmt.Sprintf("method %q not allowed", method), nil)
}

// ErrorResponse is the JSON body written for every error.
type ErrorResponse struct {
	Error  string              `json:"error" example:"A description of the error"`
	Fields map[string][]string `json:"fields,omitempty"`
}

func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Fields: e.Fields}
}

// FromError unwraps err into an *AppError if one is present in the chain.
func FromError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// Write renders err as a JSON error response. Errors that are not *AppError become a
// generic 500 so internal details never reach the client.
func Write(w http.ResponseWriter, err error) *AppError {
	appErr, ok := FromError(err)
	if !ok {
		appErr = NewInternalError("an unexpected error occurred", err)
	}
	WriteJSON(w, appErr.StatusCode(), appErr.ToResponse())
	return appErr
}

// WriteJSON encodes data with the given status.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, `{"error":"failed to encode response"}`, http.StatusInternalServerError)
		}
	}
}

func IsNotFound(err error) bool {
	return isType(err, NotFoundError)
}

func IsAuthError(err error) bool {
	return isType(err, AuthError)
}

func IsForbidden(err error) bool {
	return isType(err, ForbiddenError)
}

func IsValidationError(err error) bool {
	return isType(err, ValidationError)
}

func isType(err error, t ErrorType) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

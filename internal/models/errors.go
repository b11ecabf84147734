package models

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Error codes shared by the HTTP API and the live channel.
const (
	CodeUnauthenticated      = "UNAUTHENTICATED"
	CodeInvalidCredential    = "INVALID_CREDENTIAL"
	CodeForbidden            = "FORBIDDEN"
	CodeInvalidIntent        = "INVALID_INTENT"
	CodeUnsupportedMediaType = "UNSUPPORTED_MEDIA_TYPE"
	CodeStoreUnavailable     = "STORE_UNAVAILABLE"
	CodeNotFound             = "NOT_FOUND"
	CodeRateLimited          = "RATE_LIMITED"
	CodeInternal             = "INTERNAL_ERROR"
)

// ErrorResponse represents a standardized API error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
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

// NewUnauthenticatedError is returned when no credential was presented.
func NewUnauthenticatedError(message string) *AppError {
	return &AppError{Code: CodeUnauthenticated, Message: message}
}

// NewInvalidCredentialError is returned for malformed, expired or badly signed credentials.
func NewInvalidCredentialError(message string, err error) *AppError {
	return &AppError{Code: CodeInvalidCredential, Message: message, Err: err}
}

func NewForbiddenError(message string) *AppError {
	return &AppError{Code: CodeForbidden, Message: message}
}

func NewInvalidIntentError(message string) *AppError {
	return &AppError{Code: CodeInvalidIntent, Message: message}
}

func NewUnsupportedMediaTypeError(message string) *AppError {
	return &AppError{Code: CodeUnsupportedMediaType, Message: message}
}

// NewStoreUnavailableError wraps a durable store failure.
func NewStoreUnavailableError(err error) *AppError {
	return &AppError{Code: CodeStoreUnavailable, Message: "Store unavailable", Err: err}
}

func NewNotFoundError(resource string, id interface{}) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: fmt.Sprintf("%s with ID %v not found", resource, id),
	}
}

func NewRateLimitedError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

func NewInternalError(err error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: "Internal server error",
		Err:     err,
	}
}

// ErrorCode returns the AppError code carried by err, or CodeInternal.
func ErrorCode(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given AppError code.
func IsCode(err error, code string) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// StatusFor maps an error onto an HTTP status code.
func StatusFor(err error) int {
	switch ErrorCode(err) {
	case CodeUnauthenticated, CodeInvalidCredential:
		return fiber.StatusUnauthorized
	case CodeForbidden:
		return fiber.StatusForbidden
	case CodeInvalidIntent:
		return fiber.StatusBadRequest
	case CodeUnsupportedMediaType:
		return fiber.StatusUnsupportedMediaType
	case CodeStoreUnavailable:
		return fiber.StatusServiceUnavailable
	case CodeNotFound:
		return fiber.StatusNotFound
	case CodeRateLimited:
		return fiber.StatusTooManyRequests
	default:
		return fiber.StatusInternalServerError
	}
}

// RespondWithError creates a standardized error response
func RespondWithError(c *fiber.Ctx, status int, err error) error {
	var response ErrorResponse

	var appErr *AppError
	if errors.As(err, &appErr) {
		response = ErrorResponse{
			Error: appErr.Message,
			Code:  appErr.Code,
		}
		// Store internals are not leaked to clients.
		if appErr.Err != nil && appErr.Code != CodeStoreUnavailable && appErr.Code != CodeInternal {
			response.Details = appErr.Err.Error()
		}
	} else {
		response = ErrorResponse{
			Error: err.Error(),
		}
	}

	return c.Status(status).JSON(response)
}

// RespondWithAppError writes err using the status derived from its code.
func RespondWithAppError(c *fiber.Ctx, err error) error {
	return RespondWithError(c, StatusFor(err), err)
}

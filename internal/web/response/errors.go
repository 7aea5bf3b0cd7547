package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/hireflow/hireflow/internal/apperr"
	"github.com/hireflow/hireflow/internal/store"
	"github.com/hireflow/hireflow/internal/validation"
)

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ValidationErrorResponse represents validation errors
type ValidationErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  map[string][]string `json:"fields"`
}

// RenderError renders a standard error response
func RenderError(w http.ResponseWriter, statusCode int, err error) {
	RenderErrorWithDetails(w, statusCode, err, nil)
}

// RenderErrorWithDetails renders an error with additional details
func RenderErrorWithDetails(w http.ResponseWriter, statusCode int, err error, details map[string]interface{}) {
	if ve, ok := validation.As(err); ok {
		RenderValidationError(w, ve)
		return
	}

	writeJSON(w, statusCode, &ErrorResponse{
		Error:   errorCodeFromStatus(statusCode),
		Message: err.Error(),
		Details: details,
	})
}

// RenderValidationError renders validation errors
func RenderValidationError(w http.ResponseWriter, ve *validation.Errors) {
	writeJSON(w, http.StatusUnprocessableEntity, &ValidationErrorResponse{
		Error:   "validation_failed",
		Message: "The request contains invalid data",
		Fields:  ve.Fields,
	})
}

// RenderBadRequest renders a 400 Bad Request error
func RenderBadRequest(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusBadRequest, errors.New(message))
}

// RenderUnauthorized renders a 401 Unauthorized error
func RenderUnauthorized(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Authentication required"
	}
	RenderError(w, http.StatusUnauthorized, errors.New(message))
}

// RenderForbidden renders a 403 Forbidden error
func RenderForbidden(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Access denied"
	}
	RenderError(w, http.StatusForbidden, errors.New(message))
}

// RenderNotFound renders a 404 Not Found error
func RenderNotFound(w http.ResponseWriter, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RenderError(w, http.StatusNotFound, errors.New(message))
}

// RenderMethodNotAllowed renders a 405 Method Not Allowed error
func RenderMethodNotAllowed(w http.ResponseWriter, allowedMethods []string) {
	w.Header().Set("Allow", strings.Join(allowedMethods, ", "))
	RenderError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

// RenderConflict renders a 409 Conflict error
func RenderConflict(w http.ResponseWriter, message string) {
	RenderError(w, http.StatusConflict, errors.New(message))
}

// RenderTooManyRequests renders a 429 Too Many Requests error
func RenderTooManyRequests(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
	RenderError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
}

// RenderInternalError renders a 500 Internal Server Error without exposing err
func RenderInternalError(w http.ResponseWriter) {
	RenderError(w, http.StatusInternalServerError, errors.New("Internal server error"))
}

// StatusFor maps a service error onto an HTTP status code
func StatusFor(err error) int {
	if _, ok := validation.As(err); ok {
		return http.StatusUnprocessableEntity
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrOptimisticLock),
		errors.Is(err, store.ErrUniqueViolation),
		errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrForeignKeyViolation),
		errors.Is(err, store.ErrCheckViolation),
		errors.Is(err, store.ErrNotNullViolation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, apperr.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperr.ErrBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// RenderServiceError renders err with the status StatusFor assigns it.
// Internal errors are rendered without their message.
func RenderServiceError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	switch status {
	case http.StatusInternalServerError:
		RenderInternalError(w)
	case http.StatusNotFound:
		RenderNotFound(w, err.Error())
	default:
		RenderError(w, status, err)
	}
}

// errorCodeFromStatus maps HTTP status codes to error codes
func errorCodeFromStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusRequestTimeout:
		return "request_timeout"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "request_too_large"
	case http.StatusUnsupportedMediaType:
		return "unsupported_media_type"
	case http.StatusUnprocessableEntity:
		return "unprocessable_entity"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusServiceUnavailable:
		return "service_unavailable"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

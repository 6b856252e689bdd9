package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/aggregation/internal/metrics"
	"example.com/backstage/services/aggregation/internal/session"
)

// ErrorResponse defines the structure of an error response
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Error represents an API error
type Error struct {
	Message    string
	StatusCode int
	Code       string
}

// Error implements the error interface
func (e *Error) Error() string {
	return e.Message
}

// Common API errors
var (
	ErrInvalidRequest = &Error{Message: "Invalid request", StatusCode: http.StatusBadRequest, Code: "INVALID_REQUEST"}
	ErrNotFound       = &Error{Message: "Resource not found", StatusCode: http.StatusNotFound, Code: "NOT_FOUND"}
	ErrInternalServer = &Error{Message: "Internal server error", StatusCode: http.StatusInternalServerError, Code: "INTERNAL_ERROR"}
	ErrConflict       = &Error{Message: "Resource already exists", StatusCode: http.StatusConflict, Code: "CONFLICT"}
)

// NewValidationError creates a new validation error with a custom message
func NewValidationError(message string) *Error {
	return &Error{
		Message:    message,
		StatusCode: http.StatusBadRequest,
		Code:       "VALIDATION_ERROR",
	}
}

// NewError creates a new API error with custom details
func NewError(message string, statusCode int, code string) *Error {
	return &Error{
		Message:    message,
		StatusCode: statusCode,
		Code:       code,
	}
}

// toAPIError maps domain errors onto API errors
func toAPIError(err error) *Error {
	var apiError *Error
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &apiError):
		return apiError
	case errors.Is(err, session.ErrSessionNotFound):
		return NewError(err.Error(), http.StatusNotFound, ErrNotFound.Code)
	case errors.Is(err, session.ErrSessionExists):
		return NewError(err.Error(), http.StatusConflict, ErrConflict.Code)
	case errors.As(err, &validationErrors):
		return NewValidationError(err.Error())
	default:
		return nil
	}
}

// writeError writes an error response
func writeError(c *gin.Context, err error) {
	if apiError := toAPIError(err); apiError != nil {
		if apiError.StatusCode >= http.StatusBadRequest && apiError.StatusCode < http.StatusInternalServerError {
			metrics.GetMetricsCollector().RecordError(metrics.ErrorTypeValidation)
		}
		c.AbortWithStatusJSON(apiError.StatusCode, ErrorResponse{
			Message: apiError.Message,
			Code:    apiError.Code,
		})
		return
	}

	// Log unknown errors
	log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Unhandled error")
	metrics.GetMetricsCollector().RecordError(metrics.ErrorTypeInternal)
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		Message: ErrInternalServer.Message,
		Code:    ErrInternalServer.Code,
	})
}

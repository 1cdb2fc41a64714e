// Package apperrors provides the HTTP-facing error taxonomy used by the
// chsk handlers (spec.md §4.F, §7). Internal Go code below the HTTP
// boundary uses plain wrapped errors; AppError exists only to give a
// 4xx/5xx response a stable machine-readable code.
package apperrors

import (
	"fmt"
	"net/http"
)

// AppError is a structured, HTTP-aware error.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    string `json:"details,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s - %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ErrorResponse is the JSON body written for a failed request.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// Error codes for the preflight and handshake failures named in spec.md §4.F.
const (
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeCSRFInvalid     = "CSRF_INVALID"
	ErrCodeOriginRejected  = "ORIGIN_REJECTED"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeMissingClientID = "MISSING_CLIENT_ID"
	ErrCodeBadPackage      = "BAD_PACKAGE"
	ErrCodeInternalServer  = "INTERNAL_SERVER_ERROR"
)

func New(code, message string) *AppError {
	return &AppError{Code: code, Message: message, StatusCode: statusFor(code)}
}

func NewWithDetails(code, message, details string) *AppError {
	return &AppError{Code: code, Message: message, Details: details, StatusCode: statusFor(code)}
}

func Wrap(code, message string, err error) *AppError {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return NewWithDetails(code, message, details)
}

func statusFor(code string) int {
	switch code {
	case ErrCodeBadRequest, ErrCodeMissingClientID, ErrCodeBadPackage:
		return http.StatusBadRequest
	case ErrCodeCSRFInvalid, ErrCodeOriginRejected:
		return http.StatusForbidden
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// ToResponse converts an AppError to its wire ErrorResponse.
func (e *AppError) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Code, Message: e.Message, Code: e.Code, Details: e.Details}
}

func BadRequest(message string) *AppError { return New(ErrCodeBadRequest, message) }

func CSRFInvalid() *AppError {
	return New(ErrCodeCSRFInvalid, "csrf token missing or invalid")
}

func OriginRejected(origin string) *AppError {
	return NewWithDetails(ErrCodeOriginRejected, "origin not allowed", origin)
}

func Unauthorized() *AppError {
	return New(ErrCodeUnauthorized, "request is not authorized")
}

func MissingClientID() *AppError {
	return New(ErrCodeMissingClientID, "client-id query parameter is required")
}

func InternalServer(message string) *AppError { return New(ErrCodeInternalServer, message) }

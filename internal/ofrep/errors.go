package ofrep

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/open-feature/go-sdk/openfeature"
)

// ErrorCode represents machine-readable error codes for non-evaluation failures.
type ErrorCode string

const (
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeRateLimited  ErrorCode = "RATE_LIMITED"
	ErrCodeNotReady     ErrorCode = "NOT_READY"
)

// ErrorResponse is the body of authentication, rate limit and readiness errors.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      ErrorCode `json:"code"`
	RequestID string    `json:"request_id,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(statusCode int, code ErrorCode, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    code,
	}
}

func writeErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, errResp *ErrorResponse) {
	if reqID := middleware.GetReqID(r.Context()); reqID != "" {
		errResp.RequestID = reqID
	}
	writeJSON(w, statusCode, errResp)
}

// UnauthorizedError writes a 401 response.
func UnauthorizedError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusUnauthorized, NewErrorResponse(http.StatusUnauthorized, ErrCodeUnauthorized, message))
}

// ForbiddenError writes a 403 response.
func ForbiddenError(w http.ResponseWriter, r *http.Request, message string) {
	writeErrorResponse(w, r, http.StatusForbidden, NewErrorResponse(http.StatusForbidden, ErrCodeForbidden, message))
}

// RateLimitedError writes a 429 response.
func RateLimitedError(w http.ResponseWriter, r *http.Request) {
	writeErrorResponse(w, r, http.StatusTooManyRequests,
		NewErrorResponse(http.StatusTooManyRequests, ErrCodeRateLimited, "rate limit exceeded"))
}

// evaluationFailure is the OFREP error body for a single flag.
type evaluationFailure struct {
	Key          string                `json:"key"`
	ErrorCode    openfeature.ErrorCode `json:"errorCode"`
	ErrorDetails string                `json:"errorDetails,omitempty"`
}

// statusForCode maps an OpenFeature error code to an OFREP status.
func statusForCode(code openfeature.ErrorCode) int {
	switch code {
	case openfeature.FlagNotFoundCode:
		return http.StatusNotFound
	case openfeature.ProviderNotReadyCode:
		return http.StatusServiceUnavailable
	case openfeature.GeneralCode:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

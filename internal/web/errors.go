package web

// errors.go provides unified error response handling for the web layer.
//
// Every error leaves the server the same way:
//  1. Handler encounters an error
//  2. Calls respondError(w, r, err)
//  3. statusFor picks the HTTP status from the error chain
//  4. core.MapError supplies the user-friendly message and code
//  5. The technical error is logged with the request ID for correlation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/JonMunkholm/sheetquery/internal/core"
	"github.com/JonMunkholm/sheetquery/internal/logging"
)

// errBadRequest marks malformed request bodies and parameters.
var errBadRequest = errors.New("invalid request")

// errRateLimited is reported when a client exceeds its request budget.
var errRateLimited = errors.New("rate limit exceeded")

// ErrorResponse represents the JSON structure for API error responses.
// Includes both machine-readable (Code) and human-readable (Message, Action) fields.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// statusFor maps an error to its HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, core.ErrSessionNotFound),
		errors.Is(err, core.ErrNoResponseYet),
		errors.Is(err, core.ErrArtifactNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrNoFiles),
		errors.Is(err, core.ErrNoValidFiles),
		errors.Is(err, core.ErrUnsupportedFile),
		errors.Is(err, core.ErrQueryMissing),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrNoDataSelected):
		return http.StatusUnprocessableEntity
	case core.IsQueryError(err), errors.Is(err, core.ErrMissingArtifact):
		return http.StatusBadGateway
	case errors.Is(err, core.ErrTooManyQueries):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs the technical error server-side and writes the
// user-facing JSON error.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	userMsg := core.MapError(err)

	logger := logging.FromContext(r.Context())
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", userMsg.Code,
	}
	if status >= http.StatusInternalServerError {
		logger.Error("request error", attrs...)
	} else {
		logger.Warn("request error", attrs...)
	}

	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "5")
	}

	// Engine failures carry the engine's own text so the caller can see
	// what went wrong with the query.
	detail := userMsg.Message
	var qe *core.QueryError
	if errors.As(err, &qe) && qe.Err != nil {
		detail = qe.Err.Error()
	}
	respondErrorJSON(w, userMsg, detail, status)
}

// respondErrorJSON writes a JSON error response. detail fills the error
// field; the message field always holds the mapped user message.
func respondErrorJSON(w http.ResponseWriter, msg core.UserMessage, detail string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   detail,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// Package httperrors defines the error taxonomy shared by the HTTP clients
// and the JSON error responder used by the stub server.
package httperrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// Sentinel errors for HTTP conditions that backoff cannot fix.
// They are never retried.
var (
	ErrAuth            = errors.New("authentication or permission rejected (401/403)")
	ErrNotFound        = errors.New("resource not found (404)")
	ErrPayloadTooLarge = errors.New("payload too large (413)")

	// ErrTimeout is the client-side poll deadline; distinct from a
	// server-reported FAILED/ERROR. The remote job may still be running.
	ErrTimeout = errors.New("deadline exceeded while waiting for remote job")
)

// ProtocolError reports a response whose shape could not be understood.
// The raw body is kept for diagnostics.
type ProtocolError struct {
	Op   string
	Body string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: unrecognized response shape: %q", e.Op, e.Body)
}

// FromStatus maps a fatal HTTP status to its sentinel error, or nil if the
// status has no dedicated category.
func FromStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	default:
		return nil
	}
}

// ErrorResponse defines the standard JSON error structure.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// RespondWithError sends a JSON error response.
func RespondWithError(w http.ResponseWriter, logger *slog.Logger, status int, internalError error, userMessage string) {
	if internalError != nil {
		logger.Error("API Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
			slog.String("internal_error", internalError.Error()),
		)
	} else {
		logger.Warn("API Response Error",
			slog.Int("status", status),
			slog.String("user_message", userMessage),
		)
	}

	errResp := ErrorResponse{
		Error:   http.StatusText(status),
		Message: userMessage,
		Status:  status,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errResp); err != nil {
		logger.Error("Failed to encode error response", slog.String("encoding_error", err.Error()))
		http.Error(w, `{"error":"Internal Server Error", "message":"Failed to encode error response"}`, http.StatusInternalServerError)
	}
}

// Convenience functions for common errors

func BadRequest(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusBadRequest, err, message)
}

func NotFound(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	RespondWithError(w, logger, http.StatusNotFound, err, message)
}

func InternalServerError(w http.ResponseWriter, logger *slog.Logger, err error, message string) {
	if message == "" {
		message = "An unexpected error occurred."
	}
	RespondWithError(w, logger, http.StatusInternalServerError, err, message)
}

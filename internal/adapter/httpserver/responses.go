// Package httpserver contains the HTTP handlers, validation and middleware
// for the matrix orchestration API. Handlers stay thin: decode, validate,
// call the usecase, encode.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/latticehq/lattice/internal/domain"
)

type errorEnvelope struct {
	Error apiError `json:"error"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain sentinels onto HTTP statuses and a stable error code.
func writeError(w http.ResponseWriter, r *http.Request, err error, details any) {
	status := http.StatusInternalServerError
	code := "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
		code = "INVALID_ARGUMENT"
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
		code = "NOT_FOUND"
	case errors.Is(err, domain.ErrAlreadyExists):
		status = http.StatusConflict
		code = "ALREADY_EXISTS"
	case errors.Is(err, domain.ErrConflict):
		status = http.StatusConflict
		code = "CONFLICT"
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusTooManyRequests
		code = "QUOTA_EXCEEDED"
	case errors.Is(err, domain.ErrLockUnavailable):
		status = http.StatusLocked
		code = "LOCK_UNAVAILABLE"
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		// Internals stay out of the response body.
		writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: "internal error"}})
		return
	}
	writeJSON(w, status, errorEnvelope{Error: apiError{Code: code, Message: err.Error(), Details: details}})
}

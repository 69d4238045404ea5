// Package api is the HTTP layer: routing, request binding and response
// formatting over the check-in service.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/alert"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/checkin"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/scoring"
	"github.com/mido2666/Smart-Campus-Assistant-v-1.1-main-sub002/internal/store"
)

// ─── Response envelope ────────────────────────────────────────────────────────

// envelope wraps every response. Exactly one of Data and Error is set.
type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ─── Response helpers ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func ok(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, envelope{Data: data})
}

func created(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusCreated, envelope{Data: data})
}

func fail(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, envelope{Error: &apiError{Code: code, Message: message}})
}

func badRequest(w http.ResponseWriter, code, message string) {
	fail(w, http.StatusBadRequest, code, message)
}

func notFound(w http.ResponseWriter, message string) {
	fail(w, http.StatusNotFound, "NOT_FOUND", message)
}

func conflict(w http.ResponseWriter, message string) {
	fail(w, http.StatusConflict, "CONFLICT", message)
}

func unprocessable(w http.ResponseWriter, message string) {
	fail(w, http.StatusUnprocessableEntity, "UNPROCESSABLE", message)
}

func tooManyRequests(w http.ResponseWriter) {
	fail(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down")
}

func internalError(w http.ResponseWriter) {
	fail(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an unexpected error occurred")
}

// serviceError maps a service error onto a status code.
func serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		notFound(w, err.Error())
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, store.ErrDuplicate),
		errors.Is(err, alert.ErrTerminal),
		errors.Is(err, alert.ErrInvalidTransition):
		conflict(w, err.Error())
	case errors.Is(err, alert.ErrEmptyAssignee),
		errors.Is(err, alert.ErrEmptyNote),
		errors.Is(err, alert.ErrEmptyResolution),
		errors.Is(err, checkin.ErrInvalidSession),
		errors.Is(err, scoring.ErrInvalidGeofence),
		errors.Is(err, scoring.ErrInvalidTimeWindow):
		unprocessable(w, err.Error())
	default:
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		internalError(w)
	}
}

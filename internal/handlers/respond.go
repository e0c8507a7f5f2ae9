package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"support-widget-server/internal/db"
	"support-widget-server/internal/logger"
	"support-widget-server/internal/service"
)

const maxBodyBytes = 1 << 20

func JSONWrite(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func JSONError(w http.ResponseWriter, status int, msg string) {
	JSONWrite(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: malformed body", service.ErrInvalidInput)
	}
	return nil
}

// statusFor maps a service error to its status code and user-facing message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrNotAuthenticated):
		return http.StatusUnauthorized, "Not authenticated"
	case errors.Is(err, service.ErrNoOrganization):
		return http.StatusForbidden, "No organization"
	case errors.Is(err, service.ErrInvalidSession):
		return http.StatusUnauthorized, "Invalid session"
	case errors.Is(err, service.ErrIncorrectSession):
		return http.StatusForbidden, "Incorrect session"
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest, strings.TrimPrefix(err.Error(), service.ErrInvalidInput.Error()+": ")
	case errors.Is(err, service.ErrConversationResolved):
		return http.StatusConflict, "Conversation resolved"
	case errors.Is(err, db.ErrNotFound):
		return http.StatusNotFound, "Not found"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func handleError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request_failed", "path", r.URL.Path, "error", err)
	} else {
		logger.Debug("request_rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	JSONError(w, status, msg)
}

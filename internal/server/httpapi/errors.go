package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/and161185/portal-keeper/internal/connector"
	"github.com/and161185/portal-keeper/internal/errs"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps service and connector errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrVaultLocked):
		return http.StatusLocked
	case errors.Is(err, errs.ErrInvalidPassword):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, errs.ErrNotInitialized), errors.Is(err, errs.ErrAlreadyInitialized):
		return http.StatusConflict
	case errors.Is(err, errs.ErrWeakPassword), errors.Is(err, errs.ErrValidation), errors.Is(err, errs.ErrNoFieldsProvided):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrUnknownPortalType), errors.Is(err, connector.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case connector.IsPortalFailure(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// fail writes err as a JSON error. Internal errors are logged, not echoed.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, code, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

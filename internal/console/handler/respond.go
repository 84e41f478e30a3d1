package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xela07ax/dropwatch/internal/console/service"
	"github.com/xela07ax/dropwatch/internal/domain"
	"github.com/xela07ax/dropwatch/internal/engine"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf разделяет типы ошибок (404, 409, 400, 503, 500)
func statusOf(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnknownDomain),
		errors.Is(err, engine.ErrUnknownRule),
		errors.Is(err, domain.ErrDecisionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrStoreDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		// Внутренние детали наружу не отдаем
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Error: msg})
}

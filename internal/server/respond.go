package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/prismnews/research-engine/internal/research"
)

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			zap.L().Error("encode response", zap.Error(err))
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondDomainError maps the orchestrator's error taxonomy to HTTP
// status codes. Anything unrecognized is a 500 with a generic message;
// internals are logged, never echoed.
func respondDomainError(w http.ResponseWriter, err error) {
	var (
		validation *research.ValidationError
		notFound   *research.NotFoundError
		forbidden  *research.ForbiddenError
		transition *research.InvalidTransitionError
	)
	switch {
	case errors.As(err, &validation):
		respondError(w, http.StatusBadRequest, validation.Error())
	case errors.As(err, &notFound):
		respondError(w, http.StatusNotFound, notFound.Error())
	case errors.As(err, &forbidden):
		respondError(w, http.StatusForbidden, forbidden.Error())
	case errors.As(err, &transition):
		respondError(w, http.StatusConflict, transition.Error())
	default:
		zap.L().Error("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return ""
}

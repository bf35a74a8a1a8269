// Package handler serves the local HTTP surface the POS and kitchen
// screens talk to.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kiwari-pos/engine/internal/apperr"
	"github.com/kiwari-pos/engine/internal/backend"
	"github.com/kiwari-pos/engine/internal/middleware"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/kiwari-pos/engine/internal/service"
	"github.com/sirupsen/logrus"
)

func writeJSON(w http.ResponseWriter, log logrus.FieldLogger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Error("failed to encode JSON response")
	}
}

// writeError maps the error taxonomy onto status codes.
func writeError(w http.ResponseWriter, log logrus.FieldLogger, err error) {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		writeJSON(w, log, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, apperr.ErrValidation):
		writeJSON(w, log, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, apperr.ErrInvalidTransition), errors.Is(err, apperr.ErrConflict):
		writeJSON(w, log, http.StatusConflict, map[string]string{
			"error": err.Error(),
			"kind":  apperr.Kind(err),
		})
	case errors.Is(err, apperr.ErrNetwork):
		writeJSON(w, log, http.StatusServiceUnavailable, map[string]string{"error": "backend unavailable"})
	case errors.Is(err, backend.ErrUnauthorized):
		log.WithError(err).Error("backend rejected engine credentials")
		writeJSON(w, log, http.StatusBadGateway, map[string]string{"error": "backend rejected credentials"})
	default:
		log.WithError(err).Error("request failed")
		writeJSON(w, log, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

// writeResult answers a mutation: applied with okStatus, queued with 202,
// skipped by the guard with 204.
func writeResult(w http.ResponseWriter, log logrus.FieldLogger, okStatus int, res service.Result) {
	switch res.Outcome {
	case service.Skipped:
		w.WriteHeader(http.StatusNoContent)
	case service.Queued:
		writeJSON(w, log, http.StatusAccepted, res)
	default:
		writeJSON(w, log, okStatus, res)
	}
}

// actor builds the state-machine actor from the request's claims.
func actor(r *http.Request) (service.Actor, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		return service.Actor{}, false
	}
	return service.Actor{UserID: claims.UserID.String(), Role: claims.Role}, true
}

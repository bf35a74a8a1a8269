package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiwari-pos/engine/internal/enum"
	"github.com/kiwari-pos/engine/internal/middleware"
	"github.com/kiwari-pos/engine/internal/queue"
	"github.com/sirupsen/logrus"
)

// QueueServicer exposes the offline queue.
type QueueServicer interface {
	Pending() []queue.Mutation
	RetryQueuedMutation(ctx context.Context, id uuid.UUID) (queue.Result, error)
	RetryAll(ctx context.Context) queue.Report
	DropQueuedMutation(ctx context.Context, id uuid.UUID) error
}

// QueueHandler lets operators inspect and drive the offline queue.
type QueueHandler struct {
	svc QueueServicer
	log logrus.FieldLogger
}

func NewQueueHandler(svc QueueServicer, log logrus.FieldLogger) *QueueHandler {
	return &QueueHandler{svc: svc, log: log.WithField("handler", "queue")}
}

// RegisterRoutes registers queue endpoints. Expected to be mounted at /queue
// Dropping an entry discards a sale, so it is limited to OWNER and MANAGER.
func (h *QueueHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/retry", h.RetryAll)
	r.Post("/{id}/retry", h.Retry)
	r.With(middleware.RequireRole(enum.UserRoleOwner, enum.UserRoleManager)).Delete("/{id}", h.Drop)
}

// List handles GET /queue.
func (h *QueueHandler) List(w http.ResponseWriter, r *http.Request) {
	pending := h.svc.Pending()
	if pending == nil {
		pending = []queue.Mutation{}
	}
	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"count":     len(pending),
		"mutations": pending,
	})
}

// RetryAll handles POST /queue/retry.
func (h *QueueHandler) RetryAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.svc.RetryAll(r.Context()))
}

// Retry handles POST /queue/{id}/retry. A terminal failure still answers
// with the result so the caller can show why the entry was dropped.
func (h *QueueHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid mutation ID"})
		return
	}

	res, err := h.svc.RetryQueuedMutation(r.Context(), id)
	if err != nil {
		if res.Outcome == queue.Dropped {
			writeJSON(w, h.log, http.StatusConflict, res)
			return
		}
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, h.log, http.StatusOK, res)
}

// Drop handles DELETE /queue/{id}.
func (h *QueueHandler) Drop(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "invalid mutation ID"})
		return
	}

	if err := h.svc.DropQueuedMutation(r.Context(), id); err != nil {
		if errors.Is(err, queue.ErrNotFound) {
			writeJSON(w, h.log, http.StatusNotFound, map[string]string{"error": "mutation not found"})
			return
		}
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

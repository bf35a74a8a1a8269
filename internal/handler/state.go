package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiwari-pos/engine/internal/model"
	"github.com/kiwari-pos/engine/internal/notify"
	"github.com/kiwari-pos/engine/internal/reconcile"
	"github.com/sirupsen/logrus"
)

// Snapshotter is satisfied by *reconcile.Cache.
type Snapshotter interface {
	Snapshot() reconcile.Snapshot
}

// Notifier is satisfied by *notify.Emitter.
type Notifier interface {
	Badges() notify.Badges
	Ack() notify.Badges
	SetOptIn(on bool)
	OptedIn() bool
}

// StateHandler serves read-only views of the reconciled cache and the
// notification settings.
type StateHandler struct {
	cache  Snapshotter
	notify Notifier
	log    logrus.FieldLogger
}

func NewStateHandler(cache Snapshotter, n Notifier, log logrus.FieldLogger) *StateHandler {
	return &StateHandler{cache: cache, notify: n, log: log.WithField("handler", "state")}
}

// RegisterRoutes registers the read endpoints on the root router.
func (h *StateHandler) RegisterRoutes(r chi.Router) {
	r.Get("/snapshot", h.Snapshot)
	r.Get("/tables/status", h.TableStatus)
	r.Get("/badges", h.Badges)
	r.Put("/notifications/opt-in", h.OptIn)
	r.Post("/notifications/ack", h.Ack)
}

type tableStatusResponse struct {
	TableID string            `json:"table_id"`
	Number  string            `json:"number"`
	Status  model.TableStatus `json:"status"`
}

type optInRequest struct {
	Enabled *bool `json:"enabled"`
}

// Snapshot handles GET /snapshot.
func (h *StateHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.cache.Snapshot())
}

// TableStatus handles GET /tables/status in table order.
func (h *StateHandler) TableStatus(w http.ResponseWriter, r *http.Request) {
	snap := h.cache.Snapshot()
	resp := make([]tableStatusResponse, len(snap.Tables))
	for i, t := range snap.Tables {
		status, ok := snap.TableStatus[t.ID]
		if !ok {
			status = model.TableAvailable
		}
		resp[i] = tableStatusResponse{TableID: t.ID, Number: t.Number, Status: status}
	}
	writeJSON(w, h.log, http.StatusOK, resp)
}

// Badges handles GET /badges.
func (h *StateHandler) Badges(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, map[string]interface{}{
		"badges": h.notify.Badges(),
		"opt_in": h.notify.OptedIn(),
	})
}

// OptIn handles PUT /notifications/opt-in. Audible alerts stay off until
// the user turns them on from a gesture in the UI.
func (h *StateHandler) OptIn(w http.ResponseWriter, r *http.Request) {
	var req optInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		writeJSON(w, h.log, http.StatusBadRequest, map[string]string{"error": "enabled is required"})
		return
	}
	h.notify.SetOptIn(*req.Enabled)
	writeJSON(w, h.log, http.StatusOK, map[string]bool{"opt_in": *req.Enabled})
}

// Ack handles POST /notifications/ack.
func (h *StateHandler) Ack(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.log, http.StatusOK, h.notify.Ack())
}

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ashita-ai/kiroku/internal/model"
)

// HandleListEvents handles GET /api/events.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	f, ok := h.eventFilter(w, r)
	if !ok {
		return
	}
	page, err := h.store.Query(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, "query events", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// HandleGetEvent handles GET /api/events/{id}.
func (h *Handlers) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "get event", err)
		return
	}
	writeJSON(w, http.StatusOK, model.EventResponse{Status: model.StatusOK, Event: e})
}

// HandleDeleteEvent handles DELETE /api/events/{id}.
func (h *Handlers) HandleDeleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	found, err := h.store.Delete(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, "delete event", err)
		return
	}
	if !found {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, model.DeleteResponse{Status: model.StatusOK})
}

// HandleDeleteEvents handles DELETE /api/events. With a sessionId it
// removes one session, otherwise everything. A sessionId parameter that is
// present but blank is rejected rather than widened to delete-all.
func (h *Handlers) HandleDeleteEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := first(q, "sessionId", "session_id")
	if sessionID == "" && (q.Has("sessionId") || q.Has("session_id")) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "sessionId must not be blank")
		return
	}
	if sessionID != "" {
		n, err := h.store.DeleteBySession(r.Context(), sessionID)
		if err != nil {
			h.writeStoreError(w, r, "delete session", err)
			return
		}
		writeJSON(w, http.StatusOK, model.DeleteResponse{
			Status:       model.StatusOK,
			DeletedCount: &n,
			SessionID:    sessionID,
		})
		return
	}

	n, err := h.store.DeleteAll(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "delete all", err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeleteResponse{Status: model.StatusOK, DeletedCount: &n})
}

// HandleStats handles GET /api/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	f, ok := h.eventFilter(w, r)
	if !ok {
		return
	}
	total, err := h.store.Count(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, "count events", err)
		return
	}
	writeJSON(w, http.StatusOK, model.StatsResponse{Total: total})
}

// HandleEventTypes handles GET /api/event-types.
func (h *Handlers) HandleEventTypes(w http.ResponseWriter, r *http.Request) {
	f, ok := h.eventFilter(w, r)
	if !ok {
		return
	}
	counts, err := h.store.CountByEvent(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, "count by event", err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

// HandleSessions handles GET /api/sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	f, err := parseSessionFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	sessions, err := h.store.Sessions(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, "sessions", err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleActivity handles GET /api/activity.
func (h *Handlers) HandleActivity(w http.ResponseWriter, r *http.Request) {
	f, ok := h.eventFilter(w, r)
	if !ok {
		return
	}
	points, err := h.store.Activity(r.Context(), f)
	if err != nil {
		h.writeStoreError(w, r, "activity", err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// HandleDatabaseSize handles GET /api/database-size.
func (h *Handlers) HandleDatabaseSize(w http.ResponseWriter, r *http.Request) {
	size, err := h.store.DatabaseSize(r.Context())
	if err != nil {
		h.writeStoreError(w, r, "database size", err)
		return
	}
	writeJSON(w, http.StatusOK, size)
}

func (h *Handlers) eventFilter(w http.ResponseWriter, r *http.Request) (model.EventFilter, bool) {
	f, err := parseEventFilter(r.URL.Query())
	if err != nil {
		var pe *paramError
		msg := "invalid query parameters"
		if errors.As(err, &pe) {
			msg = pe.Error()
		}
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, msg)
		return f, false
	}
	return f, true
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid event id")
		return 0, false
	}
	return id, true
}

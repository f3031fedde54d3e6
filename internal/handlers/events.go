package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/repository"
)

// Events handles POST /api/v1/events, the write-side feed. Each accepted
// event lands in its local table; registered-account events additionally
// refresh the central activity index, asynchronously when a job queue is
// attached.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.RecordEventRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.TS.IsZero() {
		req.TS = time.Now().UTC()
	}

	row, err := h.events.RecordEvent(r.Context(), req)
	if err != nil {
		if errors.Is(err, repository.ErrUnknownTable) {
			h.writeError(w, http.StatusBadRequest, "unknown_table", err.Error())
			return
		}
		h.writeError(w, http.StatusInternalServerError, "event_record_failed", err.Error())
		return
	}

	if req.UserName != "" && h.activity != nil {
		if err := h.activity.RecordActivity(r.Context(), req.UserName, h.localSite, req.TS); err != nil {
			// The event is already durable; a stale activity index heals on
			// the next event, so log and move on.
			h.logger.WarnContext(r.Context(), "failed to record central activity",
				"user", req.UserName, "error", err)
		}
	}
	h.writeJSON(w, http.StatusCreated, row)
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/crosscheck-systems/crosscheck/internal/federation"
)

// GlobalContributions handles GET /api/v1/global/contributions.
func (h *Handler) GlobalContributions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	req := federation.Request{
		Target:    q.Get("target"),
		Authority: q.Get("authority"),
		Cursor:    q.Get("cursor"),
	}
	if req.Target == "" {
		h.writeError(w, http.StatusBadRequest, "missing_target", "target query parameter is required")
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		req.Limit = limit
	}

	page, err := h.pager.Contributions(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, federation.ErrBadCursor):
			h.writeError(w, http.StatusBadRequest, "bad_cursor", err.Error())
		case errors.Is(err, federation.ErrUnresolvableTarget):
			h.writeError(w, http.StatusNotFound, "unknown_target", "target is not an IP, an accepted range or a known global account")
		default:
			h.writeError(w, http.StatusInternalServerError, "federation_failed", err.Error())
		}
		return
	}
	h.writeJSON(w, http.StatusOK, page)
}

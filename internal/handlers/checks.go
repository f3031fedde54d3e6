package handlers

import (
	"net/http"
	"strconv"
)

// Checks handles GET /api/v1/checks, the check-log read side.
func (h *Handler) Checks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := h.checks.List(r.Context(), q.Get("investigator"), limit)
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "checks_unavailable", err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"checks": entries})
}

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/metrics"
	"github.com/crosscheck-systems/crosscheck/internal/models"
	"github.com/crosscheck-systems/crosscheck/internal/service"
)

// Compare handles POST /api/v1/investigations/compare.
func (h *Handler) Compare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.CompareRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	resp, err := h.svc.Compare(r.Context(), req)
	metrics.InvestigationDuration.WithLabelValues("compare").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("compare", "error").Inc()
		h.investigationError(w, err, "compare_failed")
		return
	}
	metrics.InvestigationsTotal.WithLabelValues("compare", "ok").Inc()
	h.writeJSON(w, http.StatusOK, resp)
}

// Timeline handles POST /api/v1/investigations/timeline.
func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.TimelineRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	start := time.Now()
	resp, err := h.svc.Timeline(r.Context(), req)
	metrics.InvestigationDuration.WithLabelValues("timeline").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.InvestigationsTotal.WithLabelValues("timeline", "error").Inc()
		h.investigationError(w, err, "timeline_failed")
		return
	}
	metrics.InvestigationsTotal.WithLabelValues("timeline", "ok").Inc()
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) investigationError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrReasonRequired):
		h.writeError(w, http.StatusBadRequest, "reason_required", "an investigation reason must be provided")
	case errors.Is(err, service.ErrNoTargets):
		h.writeError(w, http.StatusBadRequest, "no_targets", "no target could be resolved")
	default:
		h.writeError(w, http.StatusInternalServerError, fallback, err.Error())
	}
}

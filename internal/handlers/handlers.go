// Package handlers wires HTTP routes to the investigation services.
package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/checklog"
	"github.com/crosscheck-systems/crosscheck/internal/federation"
	"github.com/crosscheck-systems/crosscheck/internal/logging"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Investigator runs local cross-table investigations.
type Investigator interface {
	Compare(ctx context.Context, req models.CompareRequest) (*models.CompareResponse, error)
	Timeline(ctx context.Context, req models.TimelineRequest) (*models.TimelineResponse, error)
}

// ContributionsPager serves federated contribution pages.
type ContributionsPager interface {
	Contributions(ctx context.Context, req federation.Request) (*models.GlobalPage, error)
}

// CheckLister reads back the check log.
type CheckLister interface {
	List(ctx context.Context, investigator string, limit int) ([]checklog.VerifiedEntry, error)
}

// EventRecorder ingests one event on the write-side feed.
type EventRecorder interface {
	RecordEvent(ctx context.Context, req models.RecordEventRequest) (models.EventRow, error)
}

// ActivityRecorder keeps the central activity index in step with ingested
// events.
type ActivityRecorder interface {
	RecordActivity(ctx context.Context, performer string, siteKey models.SiteKey, ts time.Time) error
}

// Handler wires HTTP routes to the services behind them.
type Handler struct {
	svc       Investigator
	pager     ContributionsPager
	checks    CheckLister
	events    EventRecorder
	activity  ActivityRecorder
	grants    Grants
	localSite models.SiteKey
	logger    *logging.Logger
}

// New creates a Handler instance.
func New(svc Investigator, pager ContributionsPager, checks CheckLister, events EventRecorder, activity ActivityRecorder, grants Grants, localSite models.SiteKey, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		svc:       svc,
		pager:     pager,
		checks:    checks,
		events:    events,
		activity:  activity,
		grants:    grants,
		localSite: localSite,
		logger:    logger,
	}
}

// Health handles GET /healthz for liveness probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"site":   string(h.localSite),
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	h.writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method is not allowed")
}

func decodeJSON(body io.ReadCloser, dst any) error {
	defer body.Close()
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

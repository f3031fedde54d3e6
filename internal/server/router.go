package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crosscheck-systems/crosscheck/internal/handlers"
	"github.com/crosscheck-systems/crosscheck/internal/middleware"
)

// NewRouter constructs a ServeMux with the investigation API registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Local investigations
	mux.HandleFunc("/api/v1/investigations/compare", h.Compare)
	mux.HandleFunc("/api/v1/investigations/timeline", h.Timeline)

	// Federated contributions
	mux.HandleFunc("/api/v1/global/contributions", h.GlobalContributions)
	mux.HandleFunc("/api/v1/capabilities/check", h.CapabilityCheck)

	// Write-side feed and audit trail
	mux.HandleFunc("/api/v1/events", h.Events)
	mux.HandleFunc("/api/v1/checks", h.Checks)

	mux.HandleFunc("/healthz", h.Health)
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

package handlers

import (
	"net/http"

	"github.com/crosscheck-systems/crosscheck/internal/capability"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Grants maps an authority to the capabilities it holds. Grants are
// uniform across sites; per-site differences would live here if a
// deployment ever needs them.
type Grants map[string][]string

// Allows reports whether the authority holds every listed capability.
func (g Grants) Allows(authority string, capabilities []string) bool {
	held := make(map[string]bool)
	for _, c := range g[authority] {
		held[c] = true
	}
	for _, c := range capabilities {
		if !held[c] {
			return false
		}
	}
	return true
}

// CapabilityCheck handles POST /api/v1/capabilities/check, the batched
// endpoint peers call before fanning a federated query onto this
// deployment's sites. The response lists, per site, the requested
// capabilities that are deniable for the authority.
func (h *Handler) CapabilityCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.methodNotAllowed(w, http.MethodPost)
		return
	}
	var req capability.CheckRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	deniable := make(map[string]bool)
	held := make(map[string]bool)
	for _, c := range h.grants[req.Authority] {
		held[c] = true
	}
	for _, c := range req.Capabilities {
		if !held[c] {
			deniable[c] = true
		}
	}

	resp := capability.CheckResponse{Results: make(map[models.SiteKey]map[string]bool, len(req.Sites))}
	for _, site := range req.Sites {
		resp.Results[site] = deniable
	}
	h.writeJSON(w, http.StatusOK, resp)
}

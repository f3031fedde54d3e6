// Package capability asks the remote capability endpoint whether an
// authority may see investigation data on each candidate site.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/crosscheck-systems/crosscheck/internal/metrics"
	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// CheckRequest is the batched wire request: one call covers every remote
// candidate site.
type CheckRequest struct {
	Authority    string           `json:"authority"`
	Capabilities []string         `json:"capabilities"`
	Sites        []models.SiteKey `json:"sites"`
}

// CheckResponse maps each site to the capabilities deniable there.
type CheckResponse struct {
	Results map[models.SiteKey]map[string]bool `json:"results"`
}

// Checker answers "which of these sites may the authority see".
type Checker interface {
	Check(ctx context.Context, authority string, capabilities []string, sites []models.SiteKey) (map[models.SiteKey]bool, error)
}

// Client is the HTTP implementation over the batched endpoint. The
// endpoint is treated as opaque, slow and fallible; it gets its own
// timeout independent of the page deadline.
type Client struct {
	baseURL string
	http    *http.Client
	cache   *Cache
}

// NewClient builds a capability client. cache may be nil.
func NewClient(baseURL string, timeout time.Duration, cache *Cache) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		cache:   cache,
	}
}

// Check returns, for each requested site, whether every requested
// capability is allowed there. Sites absent from the response are treated
// as denied.
func (c *Client) Check(ctx context.Context, authority string, capabilities []string, sitesList []models.SiteKey) (map[models.SiteKey]bool, error) {
	if len(sitesList) == 0 {
		return map[models.SiteKey]bool{}, nil
	}

	if c.cache != nil {
		if cached, ok := c.cache.Get(ctx, authority, capabilities, sitesList); ok {
			return cached, nil
		}
	}

	body, err := json.Marshal(CheckRequest{
		Authority:    authority,
		Capabilities: capabilities,
		Sites:        sitesList,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal capability request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/v1/capabilities/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.CapabilityCheckFailures.Inc()
		return nil, fmt.Errorf("capability check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.CapabilityCheckFailures.Inc()
		return nil, fmt.Errorf("capability check returned %d", resp.StatusCode)
	}

	var cr CheckResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("failed to decode capability response: %w", err)
	}

	allowed := make(map[models.SiteKey]bool, len(sitesList))
	for _, site := range sitesList {
		deniable, present := cr.Results[site]
		if !present {
			allowed[site] = false
			continue
		}
		ok := true
		for _, cap := range capabilities {
			if deniable[cap] {
				ok = false
				break
			}
		}
		allowed[site] = ok
	}

	if c.cache != nil {
		c.cache.Put(ctx, authority, capabilities, sitesList, allowed)
	}
	return allowed, nil
}

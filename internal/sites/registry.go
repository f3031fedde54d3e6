// Package sites loads the federation site registry: the static catalog of
// participating sites, their API endpoints and local-store DSNs. Which of
// them a query actually contacts is decided by the central activity
// index, not by this file.
package sites

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Site describes one federation participant.
type Site struct {
	Key    models.SiteKey `yaml:"key"`
	APIURL string         `yaml:"api_url"`
	DSN    string         `yaml:"dsn"`
}

// Registry is the loaded site catalog.
type Registry struct {
	Sites []Site `yaml:"sites"`

	byKey map[models.SiteKey]Site
}

// Load reads and indexes a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes registry YAML.
func Parse(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse site registry: %w", err)
	}
	reg.byKey = make(map[models.SiteKey]Site, len(reg.Sites))
	for _, s := range reg.Sites {
		if s.Key == "" {
			return nil, fmt.Errorf("site registry entry missing key")
		}
		if _, dup := reg.byKey[s.Key]; dup {
			return nil, fmt.Errorf("duplicate site key %q in registry", s.Key)
		}
		reg.byKey[s.Key] = s
	}
	return &reg, nil
}

// Lookup returns the registry entry for a site key.
func (r *Registry) Lookup(key models.SiteKey) (Site, bool) {
	s, ok := r.byKey[key]
	return s, ok
}

// Keys lists every registered site key in file order.
func (r *Registry) Keys() []models.SiteKey {
	keys := make([]models.SiteKey, 0, len(r.Sites))
	for _, s := range r.Sites {
		keys = append(keys, s.Key)
	}
	return keys
}

// DSNs returns the site → DSN map for the per-site connection pools.
func (r *Registry) DSNs() map[models.SiteKey]string {
	out := make(map[models.SiteKey]string, len(r.Sites))
	for _, s := range r.Sites {
		if s.DSN != "" {
			out[s.Key] = s.DSN
		}
	}
	return out
}

package capability

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crosscheck-systems/crosscheck/internal/models"
)

// Cache keeps capability answers in Redis for the lifetime of a logical
// query, so paging through a federated result set re-checks each remote
// site once, not once per page. A cache failure is never an error; the
// caller just re-asks the endpoint.
type Cache struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewCache builds a capability cache. A nil client disables it.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if client == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cache{redis: client, ttl: ttl}
}

// key hashes the full request identity; two requests differing in any
// site or capability never share an entry.
func (c *Cache) key(authority string, capabilities []string, sitesList []models.SiteKey) string {
	caps := append([]string(nil), capabilities...)
	sort.Strings(caps)
	keys := make([]string, len(sitesList))
	for i, s := range sitesList {
		keys[i] = string(s)
	}
	sort.Strings(keys)

	h := sha256.Sum256([]byte(authority + "\x00" + strings.Join(caps, "\x00") + "\x00" + strings.Join(keys, "\x00")))
	return "crosscheck:cap:" + hex.EncodeToString(h[:16])
}

// Get returns a cached allow map, if present.
func (c *Cache) Get(ctx context.Context, authority string, capabilities []string, sitesList []models.SiteKey) (map[models.SiteKey]bool, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, c.key(authority, capabilities, sitesList)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		return nil, false
	}
	var allowed map[models.SiteKey]bool
	if err := json.Unmarshal([]byte(data), &allowed); err != nil {
		return nil, false
	}
	return allowed, true
}

// Put stores an allow map; failures are dropped silently.
func (c *Cache) Put(ctx context.Context, authority string, capabilities []string, sitesList []models.SiteKey, allowed map[models.SiteKey]bool) {
	if c == nil {
		return
	}
	data, err := json.Marshal(allowed)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, c.key(authority, capabilities, sitesList), data, c.ttl).Err()
}

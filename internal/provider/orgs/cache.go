package orgs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"timbre/internal/platform/redis"
	id "timbre/pkg/domain"
)

// Cached decorates a Store with Redis read-through caching. The org mapping
// changes rarely but is read on every issuance, so it gets a short TTL; the
// live API key is effectively immutable once provisioned and gets a longer
// one. Cache failures degrade to the underlying store, never to an error.
type Cached struct {
	store     Store
	redis     *redis.Client
	orgTTL    time.Duration
	apiKeyTTL time.Duration
}

// NewCached wraps a store with Redis caching. A nil client disables caching.
func NewCached(store Store, client *redis.Client, orgTTL, apiKeyTTL time.Duration) *Cached {
	return &Cached{store: store, redis: client, orgTTL: orgTTL, apiKeyTTL: apiKeyTTL}
}

func orgKey(tenantID id.TenantID, providerName string) string {
	return fmt.Sprintf("timbre:org:%s:%s", providerName, tenantID)
}

func apiKeyKey(tenantID id.TenantID, providerName string) string {
	return fmt.Sprintf("timbre:orgkey:%s:%s", providerName, tenantID)
}

func (c *Cached) Create(ctx context.Context, org *Organization) error {
	if err := c.store.Create(ctx, org); err != nil {
		return err
	}
	c.fill(ctx, org)
	return nil
}

func (c *Cached) FindByTenant(ctx context.Context, tenantID id.TenantID, providerName string) (*Organization, error) {
	if c.redis != nil {
		raw, err := c.redis.Get(ctx, orgKey(tenantID, providerName)).Result()
		if err == nil {
			var org Organization
			if json.Unmarshal([]byte(raw), &org) == nil {
				if org.APIKey == "" {
					if key, err := c.redis.Get(ctx, apiKeyKey(tenantID, providerName)).Result(); err == nil {
						org.APIKey = key
					}
				}
				return &org, nil
			}
		}
		// goredis.Nil and transport errors both fall through to the store.
	}

	org, err := c.store.FindByTenant(ctx, tenantID, providerName)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, org)
	return org, nil
}

func (c *Cached) SetLiveCredential(ctx context.Context, tenantID id.TenantID, providerName, apiKey string, now time.Time) error {
	if err := c.store.SetLiveCredential(ctx, tenantID, providerName, apiKey, now); err != nil {
		return err
	}
	if c.redis != nil {
		c.redis.Set(ctx, apiKeyKey(tenantID, providerName), apiKey, c.apiKeyTTL)
		c.redis.Del(ctx, orgKey(tenantID, providerName))
	}
	return nil
}

func (c *Cached) fill(ctx context.Context, org *Organization) {
	if c.redis == nil {
		return
	}
	if raw, err := json.Marshal(org); err == nil {
		c.redis.Set(ctx, orgKey(org.TenantID, org.Provider), raw, c.orgTTL)
	}
	if org.APIKey != "" {
		c.redis.Set(ctx, apiKeyKey(org.TenantID, org.Provider), org.APIKey, c.apiKeyTTL)
	}
}

package auth

import (
	"context"
	"sync"
	"time"

	"fleet-monitor/asset-tracking/internal/config"
	"fleet-monitor/asset-tracking/internal/logging"
)

// KeyLookup resolves an API key to its owner; "" means unknown.
type KeyLookup interface {
	GetAPIKey(ctx context.Context, apiKey string) (string, error)
}

const staticOwner = "static"

type cacheEntry struct {
	owner     string
	expiresAt time.Time
}

type Authenticator struct {
	localCache sync.Map
	lookup     KeyLookup
	ttl        time.Duration
	staticKeys map[string]bool
	now        func() time.Time
}

// NewAuthenticator checks keys against the configured static list, then a
// local cache, then lookup. lookup may be nil when only static keys apply.
func NewAuthenticator(cfg config.AuthConfig, lookup KeyLookup) *Authenticator {
	staticKeys := make(map[string]bool, len(cfg.ValidAPIKeys))
	for _, k := range cfg.ValidAPIKeys {
		if k != "" {
			staticKeys[k] = true
		}
	}

	return &Authenticator{
		lookup:     lookup,
		ttl:        cfg.CacheTTL,
		staticKeys: staticKeys,
		now:        time.Now,
	}
}

// Validate returns the key's owner and whether the key is accepted.
func (a *Authenticator) Validate(ctx context.Context, apiKey string) (string, bool) {
	if apiKey == "" {
		return "", false
	}

	// Level 0: static config keys
	if a.staticKeys[apiKey] {
		return staticOwner, true
	}

	// Level 1: in-memory cache
	if raw, ok := a.localCache.Load(apiKey); ok {
		entry := raw.(cacheEntry)
		if a.now().Before(entry.expiresAt) {
			return entry.owner, true
		}
		a.localCache.Delete(apiKey)
	}

	// Level 2: Redis lookup
	if a.lookup == nil {
		return "", false
	}
	owner, err := a.lookup.GetAPIKey(ctx, apiKey)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Msg("api key lookup failed")
		return "", false
	}
	if owner == "" {
		return "", false
	}

	a.localCache.Store(apiKey, cacheEntry{
		owner:     owner,
		expiresAt: a.now().Add(a.ttl),
	})
	return owner, true
}

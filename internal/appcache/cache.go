// Package appcache serves read-only application configuration in front of the durable store.
// A short-lived per-instance tier sits in front of a shared redis tier; writes invalidate both
// and broadcast the invalidation to every instance.
package appcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// InvalidationChannel carries application ids whose cached entries must be dropped.
const InvalidationChannel = "appcfg:invalidate"

const (
	defaultTTL       = 300 * time.Second
	defaultLocalTTL  = 5 * time.Second
	defaultLocalSize = 10000
	versionTTL       = 24 * time.Hour
)

// storeScript writes a loaded payload only if no invalidation bumped the version since the
// loader read it. KEYS[1] payload, KEYS[2] version; ARGV: expected version, payload, ttl ms.
var storeScript = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// invalidateScript bumps the version and deletes payloads in one step.
// KEYS[1] version, KEYS[2..] payloads; ARGV[1] version ttl ms.
var invalidateScript = redis.NewScript(`
redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
for i = 2, #KEYS do
  redis.call('DEL', KEYS[i])
end
return 1
`)

// Loader is the durable source behind the cache.
type Loader interface {
	LoadApplication(ctx context.Context, appID string) (*store.ApplicationConfig, error)
	LoadOAuth(ctx context.Context, appID, provider string) (*store.OAuthConfig, error)
	ListOAuthProviders(ctx context.Context, appID string) ([]string, error)
	LoadQuota(ctx context.Context, appID string) (*store.QuotaBinding, error)
}

// Options tunes the cache tiers.
type Options struct {
	TTL       time.Duration
	LocalTTL  time.Duration
	LocalSize int
}

// Cache is the ConfigCache.
type Cache struct {
	loader Loader
	redis  redis.UniversalClient
	local  *lru.LRU[string, []byte]
	ttl    time.Duration
	group  singleflight.Group

	mu          sync.Mutex
	generations map[string]uint64
}

// New builds a cache. A nil redis client leaves only the local tier.
func New(loader Loader, client redis.UniversalClient, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = defaultTTL
	}
	if opts.LocalTTL <= 0 || opts.LocalTTL > defaultLocalTTL {
		opts.LocalTTL = defaultLocalTTL
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = defaultLocalSize
	}
	return &Cache{
		loader:      loader,
		redis:       client,
		local:       lru.NewLRU[string, []byte](opts.LocalSize, nil, opts.LocalTTL),
		ttl:         opts.TTL,
		generations: make(map[string]uint64),
	}
}

func baseKey(appID string) string         { return "appcfg:" + appID }
func scopesKey(appID string) string       { return "appcfg:" + appID + ":scopes" }
func loginMethodsKey(appID string) string { return "appcfg:" + appID + ":login_methods" }
func quotaKey(appID string) string        { return "appcfg:" + appID + ":quota" }
func versionKey(appID string) string      { return "appcfg:" + appID + ":ver" }
func oauthKey(appID, provider string) string {
	return "appcfg:" + appID + ":oauth:" + strings.ToLower(provider)
}

// Resolve returns the configuration of appID, or store.ErrNotFound.
func (c *Cache) Resolve(ctx context.Context, appID string) (*store.ApplicationConfig, error) {
	var out store.ApplicationConfig
	err := c.fetch(ctx, appID, baseKey(appID), &out, func(ctx context.Context) (any, error) {
		return c.loader.LoadApplication(ctx, appID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveScopes returns the granted scope set of appID.
func (c *Cache) ResolveScopes(ctx context.Context, appID string) ([]string, error) {
	var out []string
	err := c.fetch(ctx, appID, scopesKey(appID), &out, func(ctx context.Context) (any, error) {
		cfg, err := c.loader.LoadApplication(ctx, appID)
		if err != nil {
			return nil, err
		}
		return cfg.Scopes, nil
	})
	return out, err
}

// ResolveLoginMethods returns the enabled login methods of appID.
func (c *Cache) ResolveLoginMethods(ctx context.Context, appID string) ([]string, error) {
	var out []string
	err := c.fetch(ctx, appID, loginMethodsKey(appID), &out, func(ctx context.Context) (any, error) {
		cfg, err := c.loader.LoadApplication(ctx, appID)
		if err != nil {
			return nil, err
		}
		return cfg.LoginMethods, nil
	})
	return out, err
}

// ResolveOAuth returns the provider sub-configuration of appID.
func (c *Cache) ResolveOAuth(ctx context.Context, appID, provider string) (*store.OAuthConfig, error) {
	var out store.OAuthConfig
	err := c.fetch(ctx, appID, oauthKey(appID, provider), &out, func(ctx context.Context) (any, error) {
		return c.loader.LoadOAuth(ctx, appID, strings.ToLower(provider))
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ResolveQuota returns the quota binding of appID.
func (c *Cache) ResolveQuota(ctx context.Context, appID string) (*store.QuotaBinding, error) {
	var out store.QuotaBinding
	err := c.fetch(ctx, appID, quotaKey(appID), &out, func(ctx context.Context) (any, error) {
		return c.loader.LoadQuota(ctx, appID)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// fetch reads key from the local tier, then redis, then the loader. Redis failures fall through
// to the loader; the cache is never a hard dependency. Loads are shared only between callers that
// observed the same local generation and shared version.
func (c *Cache) fetch(ctx context.Context, appID, key string, out any, load func(context.Context) (any, error)) error {
	if raw, ok := c.local.Get(key); ok {
		return json.Unmarshal(raw, out)
	}

	gen := c.generation(appID)
	redisUp := c.redis != nil
	version := "0"
	if redisUp {
		raw, err := c.redis.Get(ctx, key).Bytes()
		switch {
		case err == nil:
			c.storeLocal(appID, gen, key, raw)
			return json.Unmarshal(raw, out)
		case errors.Is(err, redis.Nil):
			version, redisUp = c.sharedVersion(ctx, appID)
		default:
			redisUp = false
			log.WithError(err).WithField("key", key).Warn("config cache: redis read failed, loading from store")
		}
	}

	flight := fmt.Sprintf("%s#%d#%s", key, gen, version)
	v, err, _ := c.group.Do(flight, func() (any, error) {
		value, errLoad := load(ctx)
		if errLoad != nil {
			return nil, errLoad
		}
		raw, errMarshal := json.Marshal(value)
		if errMarshal != nil {
			return nil, fmt.Errorf("config cache: encode %s: %w", key, errMarshal)
		}
		if redisUp && c.generation(appID) == gen {
			c.storeShared(ctx, appID, key, version, raw)
		}
		return raw, nil
	})
	if err != nil {
		return err
	}
	raw := v.([]byte)
	c.storeLocal(appID, gen, key, raw)
	return json.Unmarshal(raw, out)
}

// sharedVersion reads the invalidation version of appID. It reports false when redis is unreachable.
func (c *Cache) sharedVersion(ctx context.Context, appID string) (string, bool) {
	v, err := c.redis.Get(ctx, versionKey(appID)).Result()
	switch {
	case err == nil:
		return v, true
	case errors.Is(err, redis.Nil):
		return "0", true
	default:
		log.WithError(err).WithField("app_id", appID).Warn("config cache: version read failed, skipping shared tier")
		return "", false
	}
}

func (c *Cache) storeShared(ctx context.Context, appID, key, version string, raw []byte) {
	stored, err := storeScript.Run(ctx, c.redis, []string{key, versionKey(appID)}, version, raw, c.ttl.Milliseconds()).Int()
	if err != nil {
		log.WithError(err).WithField("key", key).Warn("config cache: redis write failed")
		return
	}
	if stored == 0 {
		log.WithField("key", key).Debug("config cache: discarded load superseded by invalidation")
	}
}

func (c *Cache) generation(appID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[appID]
}

// storeLocal skips entries loaded before an invalidation of the same application.
func (c *Cache) storeLocal(appID string, gen uint64, key string, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[appID] != gen {
		return
	}
	c.local.Add(key, raw)
}

// dropLocal removes every local entry derived from appID.
func (c *Cache) dropLocal(appID string) {
	c.mu.Lock()
	c.generations[appID]++
	c.mu.Unlock()

	base := baseKey(appID)
	for _, key := range c.local.Keys() {
		if key == base || strings.HasPrefix(key, base+":") {
			c.local.Remove(key)
		}
	}
}

// Invalidate removes every cached key derived from appID and broadcasts the invalidation.
// Callers run it after the durable write commits.
func (c *Cache) Invalidate(ctx context.Context, appID string) error {
	c.dropLocal(appID)
	if c.redis == nil {
		return nil
	}

	keys := []string{baseKey(appID), scopesKey(appID), loginMethodsKey(appID), quotaKey(appID)}
	if providers, err := c.loader.ListOAuthProviders(ctx, appID); err == nil {
		for _, provider := range providers {
			keys = append(keys, oauthKey(appID, provider))
		}
	}
	iter := c.redis.Scan(ctx, 0, baseKey(appID)+":oauth:*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("config cache: scan %s: %w", appID, err)
	}
	keys = append([]string{versionKey(appID)}, keys...)
	if err := invalidateScript.Run(ctx, c.redis, keys, versionTTL.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("config cache: invalidate %s: %w", appID, err)
	}
	if err := c.redis.Publish(ctx, InvalidationChannel, appID).Err(); err != nil {
		return fmt.Errorf("config cache: publish invalidation %s: %w", appID, err)
	}
	return nil
}

// Listen drops local entries named on the invalidation channel until ctx is done.
func (c *Cache) Listen(ctx context.Context) {
	if c == nil || c.redis == nil {
		return
	}
	sub := c.redis.Subscribe(ctx, InvalidationChannel)
	go func() {
		defer func() { _ = sub.Close() }()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.dropLocal(strings.TrimSpace(msg.Payload))
			}
		}
	}()
	log.Infof("config cache listening on %s", InvalidationChannel)
}

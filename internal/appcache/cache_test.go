package appcache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/store"
)

type fakeLoader struct {
	mu    sync.Mutex
	apps  map[string]store.ApplicationConfig
	oauth map[string]store.OAuthConfig
	loads atomic.Int64
	stall func() // runs once, after the next application read
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		apps: map[string]store.ApplicationConfig{
			"app-1": {AppID: "app-1", Status: models.ApplicationStatusActive, Scopes: []string{"user:read"}, LoginMethods: []string{"email"}},
		},
		oauth: map[string]store.OAuthConfig{
			"app-1/github": {AppID: "app-1", Provider: "github", ClientID: "cid-1"},
		},
	}
}

func (f *fakeLoader) setStatus(appID, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg := f.apps[appID]
	cfg.Status = status
	f.apps[appID] = cfg
}

// stallNext pauses the next LoadApplication after it has read the current row.
func (f *fakeLoader) stallNext(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stall = fn
}

func (f *fakeLoader) LoadApplication(_ context.Context, appID string) (*store.ApplicationConfig, error) {
	f.loads.Add(1)
	f.mu.Lock()
	cfg, ok := f.apps[appID]
	stall := f.stall
	f.stall = nil
	f.mu.Unlock()
	if stall != nil {
		stall()
	}
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (f *fakeLoader) LoadOAuth(_ context.Context, appID, provider string) (*store.OAuthConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cfg, ok := f.oauth[appID+"/"+provider]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cfg, nil
}

func (f *fakeLoader) ListOAuthProviders(_ context.Context, appID string) ([]string, error) {
	return []string{"github"}, nil
}

func (f *fakeLoader) LoadQuota(_ context.Context, appID string) (*store.QuotaBinding, error) {
	return &store.QuotaBinding{AppID: appID}, nil
}

func setupCache(t *testing.T) (*Cache, *fakeLoader, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	loader := newFakeLoader()
	return New(loader, client, Options{}), loader, mr, client
}

func TestResolveCachesAfterFirstLoad(t *testing.T) {
	cache, loader, mr, _ := setupCache(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		cfg, err := cache.Resolve(ctx, "app-1")
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if cfg.AppID != "app-1" {
			t.Fatalf("unexpected app %q", cfg.AppID)
		}
	}
	if got := loader.loads.Load(); got != 1 {
		t.Fatalf("expected 1 load, got %d", got)
	}
	if !mr.Exists("appcfg:app-1") {
		t.Fatalf("expected shared tier entry")
	}
	if ttl := mr.TTL("appcfg:app-1"); ttl != defaultTTL {
		t.Fatalf("expected ttl %s, got %s", defaultTTL, ttl)
	}
}

func TestResolveNotFound(t *testing.T) {
	cache, _, _, _ := setupCache(t)
	if _, err := cache.Resolve(context.Background(), "ghost"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInvalidateReflectsDisableOnNextResolve(t *testing.T) {
	cache, loader, mr, _ := setupCache(t)
	ctx := context.Background()

	if _, err := cache.Resolve(ctx, "app-1"); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if _, err := cache.ResolveScopes(ctx, "app-1"); err != nil {
		t.Fatalf("warm scopes: %v", err)
	}
	if _, err := cache.ResolveOAuth(ctx, "app-1", "github"); err != nil {
		t.Fatalf("warm oauth: %v", err)
	}

	loader.setStatus("app-1", models.ApplicationStatusDisabled)
	if err := cache.Invalidate(ctx, "app-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	for _, key := range []string{"appcfg:app-1", "appcfg:app-1:scopes", "appcfg:app-1:oauth:github"} {
		if mr.Exists(key) {
			t.Fatalf("expected %s to be removed", key)
		}
	}

	cfg, err := cache.Resolve(ctx, "app-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("expected disabled status after invalidation, got %q", cfg.Status)
	}
}

func TestResolveAfterInvalidateSkipsInflightLoad(t *testing.T) {
	cache, loader, mr, _ := setupCache(t)
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	loader.stallNext(func() {
		close(entered)
		<-release
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cache.Resolve(ctx, "app-1"); err != nil {
			t.Errorf("inflight resolve: %v", err)
		}
	}()
	<-entered

	loader.setStatus("app-1", models.ApplicationStatusDisabled)
	if err := cache.Invalidate(ctx, "app-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	cfg, err := cache.Resolve(ctx, "app-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("resolve started after invalidate served %q", cfg.Status)
	}

	close(release)
	<-done
	cfg, err = cache.Resolve(ctx, "app-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("stale load repopulated the local tier with %q", cfg.Status)
	}
	assertSharedStatus(t, mr, models.ApplicationStatusDisabled)
}

func TestStaleLoadDoesNotOverwriteSharedTier(t *testing.T) {
	cacheA, loader, mr, client := setupCache(t)
	cacheB := New(loader, client, Options{})
	ctx := context.Background()

	entered := make(chan struct{})
	release := make(chan struct{})
	loader.stallNext(func() {
		close(entered)
		<-release
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := cacheA.Resolve(ctx, "app-1"); err != nil {
			t.Errorf("instance a resolve: %v", err)
		}
	}()
	<-entered

	// instance b commits and invalidates while a still holds the old row
	loader.setStatus("app-1", models.ApplicationStatusDisabled)
	if err := cacheB.Invalidate(ctx, "app-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	close(release)
	<-done

	if mr.Exists("appcfg:app-1") {
		t.Fatalf("stale payload written to the shared tier")
	}
	fresh := New(loader, client, Options{})
	cfg, err := fresh.Resolve(ctx, "app-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("expected disabled from a fresh instance, got %q", cfg.Status)
	}
	assertSharedStatus(t, mr, models.ApplicationStatusDisabled)
}

func assertSharedStatus(t *testing.T, mr *miniredis.Miniredis, status string) {
	t.Helper()
	raw, err := mr.Get("appcfg:app-1")
	if err != nil {
		t.Fatalf("shared tier entry: %v", err)
	}
	var cfg store.ApplicationConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("decode shared entry: %v", err)
	}
	if cfg.Status != status {
		t.Fatalf("expected shared status %q, got %q", status, cfg.Status)
	}
}

func TestInvalidationBroadcastReachesOtherInstances(t *testing.T) {
	cacheA, loader, _, client := setupCache(t)
	cacheB := New(loader, client, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cacheB.Listen(ctx)

	if _, err := cacheB.Resolve(ctx, "app-1"); err != nil {
		t.Fatalf("warm b: %v", err)
	}
	// give the subscription time to register
	time.Sleep(50 * time.Millisecond)

	loader.setStatus("app-1", models.ApplicationStatusDisabled)
	if err := cacheA.Invalidate(ctx, "app-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		cfg, err := cacheB.Resolve(ctx, "app-1")
		if err != nil {
			t.Fatalf("resolve b: %v", err)
		}
		if cfg.Disabled() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance b still serving active status")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResolveFallsThroughWhenRedisDown(t *testing.T) {
	cache, loader, mr, _ := setupCache(t)
	mr.Close()

	cfg, err := cache.Resolve(context.Background(), "app-1")
	if err != nil {
		t.Fatalf("expected store fallthrough, got %v", err)
	}
	if cfg.AppID != "app-1" {
		t.Fatalf("unexpected app %q", cfg.AppID)
	}
	if loader.loads.Load() != 1 {
		t.Fatalf("expected a store load")
	}
}

func TestLocalOnlyCache(t *testing.T) {
	loader := newFakeLoader()
	cache := New(loader, nil, Options{})
	ctx := context.Background()
	if _, err := cache.Resolve(ctx, "app-1"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	loader.setStatus("app-1", models.ApplicationStatusDisabled)
	if err := cache.Invalidate(ctx, "app-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	cfg, err := cache.Resolve(ctx, "app-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !cfg.Disabled() {
		t.Fatalf("expected disabled after local invalidation")
	}
}

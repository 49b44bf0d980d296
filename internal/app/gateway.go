package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/access"
	"github.com/router-for-me/AppGateway/internal/appcache"
	"github.com/router-for-me/AppGateway/internal/applications"
	"github.com/router-for-me/AppGateway/internal/audit"
	"github.com/router-for-me/AppGateway/internal/config"
	"github.com/router-for-me/AppGateway/internal/counter"
	"github.com/router-for-me/AppGateway/internal/directory"
	"github.com/router-for-me/AppGateway/internal/downstream"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/http/api/admin"
	"github.com/router-for-me/AppGateway/internal/http/api/front"
	"github.com/router-for-me/AppGateway/internal/provision"
	"github.com/router-for-me/AppGateway/internal/quota"
	"github.com/router-for-me/AppGateway/internal/ratelimit"
	"github.com/router-for-me/AppGateway/internal/scope"
	"github.com/router-for-me/AppGateway/internal/store"
	"gorm.io/gorm"
)

// Gateway holds the wired components behind one HTTP engine.
type Gateway struct {
	Engine *gin.Engine

	Store        *store.Store
	Cache        *appcache.Cache
	Verifier     *access.Verifier
	Quota        *quota.Manager
	Applications *applications.Service
	Provisioner  *provision.Provisioner
	Audit        *audit.Recorder

	sweeper   *quota.Sweeper
	retention *audit.RetentionCleaner
}

// Build wires every component over an open database and redis client.
func Build(conf config.Config, conn *gorm.DB, client redis.UniversalClient) (*Gateway, error) {
	repo := store.New(conn)
	counters := counter.NewRedisStore(client)
	recorder := audit.NewRecorder(conn)
	cache := appcache.New(repo, client, appcache.Options{
		TTL:       conf.Cache.TTL,
		LocalTTL:  conf.Cache.LocalTTL,
		LocalSize: conf.Cache.LocalSize,
	})
	verifier := access.NewVerifier(cache, repo, conf.JWT.Secret)

	quotas := quota.NewManager(quota.Options{
		Counters:     counters,
		Bindings:     cache,
		Repository:   repo,
		Invalidator:  cache,
		Auditor:      recorder,
		Notifier:     quota.NewRedisNotifier(client, recorder),
		WarningRatio: conf.Quota.WarningRatio,
	})

	dir := directory.New(conn)
	provisioner := provision.New(repo, dir, dir, recorder, provision.DefaultTimeout)
	forwarder, err := downstream.New(conf.Downstream)
	if err != nil {
		return nil, fmt.Errorf("downstream: %w", err)
	}
	apps := applications.NewService(repo, cache, verifier, recorder)

	pipeline := &relayhttp.Pipeline{
		Authenticator: verifier,
		Authorizer:    scope.NewAuthorizer(cache, nil),
		RateLimiter:   ratelimit.New(counters),
		Quota:         quotas,
		Users:         dir,
		OAuth:         cache,
		Forwarder:     forwarder,
		Provisioner:   provisioner,
	}

	engine := newEngine()
	front.RegisterFrontRoutes(engine, front.Deps{
		Pipeline:    pipeline,
		Secrets:     verifier,
		JWTSecret:   conf.JWT.Secret,
		TokenExpiry: conf.JWT.Expiry,
	})
	admin.RegisterAdminRoutes(engine, admin.Deps{
		DB:           conn,
		Secret:       conf.JWT.AdminSecret,
		TokenExpiry:  conf.JWT.AdminExpiry,
		Applications: apps,
		AppReader:    repo,
		Quota:        quotas,
		QuotaReader:  repo,
		Rules:        provisioner,
		RuleReader:   repo,
		Audit:        recorder,
		Counters:     counters,
	})

	return &Gateway{
		Engine:       engine,
		Store:        repo,
		Cache:        cache,
		Verifier:     verifier,
		Quota:        quotas,
		Applications: apps,
		Provisioner:  provisioner,
		Audit:        recorder,
		sweeper:      quota.NewSweeper(quotas, conf.Quota.SweepInterval),
		retention:    audit.NewRetentionCleaner(conn, conf.Audit.CleanupSchedule, conf.Audit.RetentionDays),
	}, nil
}

// Start launches the invalidation listener and the background jobs. They stop with ctx.
func (g *Gateway) Start(ctx context.Context) error {
	g.Cache.Listen(ctx)
	if g.sweeper != nil {
		g.sweeper.Start(ctx)
	}
	if g.retention != nil {
		if errStart := g.retention.Start(ctx); errStart != nil {
			return fmt.Errorf("audit retention: %w", errStart)
		}
	}
	return nil
}

// Package app wires the gateway components and runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/router-for-me/AppGateway/internal/config"
	"github.com/router-for-me/AppGateway/internal/db"
	"github.com/router-for-me/AppGateway/internal/logging"
	internalsettings "github.com/router-for-me/AppGateway/internal/settings"
	log "github.com/sirupsen/logrus"
)

const (
	shutdownTimeout = 10 * time.Second
	settingsRefresh = 30 * time.Second
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	conf, err := config.Load(config.ResolveConfigPath(cfg.ConfigPath))
	if err != nil {
		return err
	}
	conn, err := db.Open(conf.Database)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	log.Info("migrations applied")
	return nil
}

// RunServer boots the gateway and blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	conf, err := config.Load(configPath)
	if err != nil {
		return err
	}
	closer, err := logging.Setup(conf.Log)
	if err != nil {
		return err
	}
	defer func() { _ = closer.Close() }()

	conn, err := db.Open(conf.Database)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	if errRefresh := internalsettings.Refresh(ctx, conn); errRefresh != nil {
		return fmt.Errorf("load settings: %w", errRefresh)
	}

	client, err := openRedis(conf.Redis)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	gateway, err := Build(conf, conn, client)
	if err != nil {
		return err
	}
	if errStart := gateway.Start(ctx); errStart != nil {
		return errStart
	}
	internalsettings.Watch(ctx, conn, settingsRefresh)

	server := &http.Server{
		Addr:         conf.Server.Addr,
		Handler:      gateway.Engine,
		ReadTimeout:  conf.Server.ReadTimeout,
		WriteTimeout: conf.Server.WriteTimeout,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Infof("starting gateway on %s with config=%s", conf.Server.Addr, configPath)
		if errServe := server.ListenAndServe(); errServe != nil && !errors.Is(errServe, http.ErrServerClosed) {
			serveErr <- errServe
		}
		close(serveErr)
	}()

	select {
	case errServe := <-serveErr:
		return errServe
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if errShutdown := server.Shutdown(shutdownCtx); errShutdown != nil {
		return fmt.Errorf("shutdown: %w", errShutdown)
	}
	log.Info("gateway stopped")
	return nil
}

// openRedis builds the shared counter and cache client from the configured URL.
func openRedis(cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if errPing := client.Ping(pingCtx).Err(); errPing != nil {
		// Counters fail open, so an unreachable redis at boot is not fatal.
		log.WithError(errPing).Warn("redis unreachable at startup")
	}
	return client, nil
}

func newEngine() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinLogger())
	return engine
}

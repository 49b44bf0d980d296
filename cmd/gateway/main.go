// Command gateway runs the application gateway.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/router-for-me/AppGateway/internal/app"
	"github.com/router-for-me/AppGateway/internal/config"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to $GATEWAY_CONFIG or ./config.yaml)")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	createAdmin := flag.String("create-admin", "", "create or reset the named admin (password from $GATEWAY_ADMIN_PASSWORD) and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.AppConfig{ConfigPath: *configPath}
	if *createAdmin != "" {
		if errCreate := app.CreateAdmin(ctx, cfg, *createAdmin, os.Getenv("GATEWAY_ADMIN_PASSWORD")); errCreate != nil {
			log.Fatalf("create admin: %v", errCreate)
		}
		return
	}
	if *migrateOnly {
		if errMigrate := app.Migrate(ctx, cfg); errMigrate != nil {
			log.Fatalf("migrate: %v", errMigrate)
		}
		return
	}
	if errRun := app.RunServer(ctx, cfg); errRun != nil {
		log.Fatalf("gateway: %v", errRun)
	}
}

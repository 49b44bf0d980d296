package app

import (
	"context"
	"errors"
	"strings"

	"github.com/router-for-me/AppGateway/internal/config"
	"github.com/router-for-me/AppGateway/internal/db"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CreateAdmin migrates the database and creates the admin, or resets its password and
// re-activates it when the username exists.
func CreateAdmin(ctx context.Context, cfg config.AppConfig, username, password string) error {
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
	return upsertAdmin(ctx, conn, username, password)
}

func upsertAdmin(ctx context.Context, conn *gorm.DB, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return errors.New("admin username and password are required")
	}
	hash, err := security.HashPassword(password)
	if err != nil {
		return err
	}
	row := models.Admin{Username: username, Password: hash, Active: true}
	if errUpsert := conn.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"password", "active", "updated_at"}),
	}).Create(&row).Error; errUpsert != nil {
		return errUpsert
	}
	log.WithField("username", username).Info("admin account saved")
	return nil
}

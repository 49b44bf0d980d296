package db

import (
	"fmt"

	"github.com/router-for-me/AppGateway/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every gateway table.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.Application{},
		&models.ApplicationOAuth{},
		&models.QuotaPlan{},
		&models.ApplicationQuota{},
		&models.UsageSnapshot{},
		&models.AutoProvisionRule{},
		&models.Role{},
		&models.Permission{},
		&models.Organization{},
		&models.SubscriptionPlan{},
		&models.UserRole{},
		&models.UserPermission{},
		&models.OrganizationMember{},
		&models.Subscription{},
		&models.ApplicationUser{},
		&models.AuditLog{},
		&models.Admin{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}

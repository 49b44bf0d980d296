// Package admin registers the operator API under /v0/admin.
package admin

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/http/api/admin/handlers"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	"gorm.io/gorm"
)

// Deps are the collaborators of the admin routes.
type Deps struct {
	DB          *gorm.DB
	Secret      string
	TokenExpiry time.Duration

	Applications handlers.ApplicationService
	AppReader    handlers.ApplicationReader
	Quota        handlers.QuotaService
	QuotaReader  handlers.QuotaReader
	Rules        handlers.RuleService
	RuleReader   handlers.RuleReader
	Audit        handlers.AuditReader
	Counters     handlers.Pinger
}

// RegisterAdminRoutes registers admin login and the authenticated admin API.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.DB == nil {
		return
	}

	health := handlers.NewHealthHandler(deps.DB, deps.Counters)
	r.GET("/healthz", health.Healthz)
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin := r.Group("/v0/admin")
	authHandler := handlers.NewAuthHandler(deps.DB, deps.Secret, deps.TokenExpiry)
	admin.POST("/login", authHandler.Login)

	authed := admin.Group("")
	authed.Use(adminAuthMiddleware(deps.DB, deps.Secret))

	appHandler := handlers.NewApplicationHandler(deps.Applications, deps.AppReader)
	authed.POST("/applications", appHandler.Create)
	authed.GET("/applications/:app_id", appHandler.Get)
	authed.PUT("/applications/:app_id/status", appHandler.SetStatus)
	authed.PUT("/applications/:app_id/scopes", appHandler.SetScopes)
	authed.PUT("/applications/:app_id/login-methods", appHandler.SetLoginMethods)
	authed.PUT("/applications/:app_id/rate-limit", appHandler.SetRateLimit)
	authed.POST("/applications/:app_id/reset-secret", appHandler.ResetSecret)
	authed.PUT("/applications/:app_id/oauth/:provider", appHandler.SaveOAuth)

	quotaHandler := handlers.NewQuotaHandler(deps.Quota, deps.QuotaReader)
	authed.POST("/quota-plans", quotaHandler.SavePlan)
	authed.PUT("/quota-plans/:id", quotaHandler.SavePlan)
	authed.GET("/applications/:app_id/quota", quotaHandler.Get)
	authed.PUT("/applications/:app_id/quota/plan", quotaHandler.BindPlan)
	authed.PUT("/applications/:app_id/quota/override", quotaHandler.SetOverride)
	authed.DELETE("/applications/:app_id/quota/override", quotaHandler.ClearOverride)
	authed.POST("/applications/:app_id/quota/reset", quotaHandler.Reset)
	authed.GET("/applications/:app_id/quota/snapshots", quotaHandler.Snapshots)

	provisionHandler := handlers.NewProvisionHandler(deps.Rules, deps.RuleReader)
	authed.GET("/applications/:app_id/provision-rule", provisionHandler.Get)
	authed.PUT("/applications/:app_id/provision-rule", provisionHandler.Save)

	auditHandler := handlers.NewAuditHandler(deps.Audit)
	authed.GET("/applications/:app_id/audit", auditHandler.List)

	settingsHandler := handlers.NewSettingsHandler(deps.DB)
	authed.PUT("/settings/:key", settingsHandler.Put)
}

// adminAuthMiddleware validates admin JWTs and loads the admin into context.
func adminAuthMiddleware(db *gorm.DB, secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayhttp.ErrorBody("missing authorization header", relayhttp.CodeMissingCredentials))
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayhttp.ErrorBody("invalid authorization format", relayhttp.CodeInvalidCredentials))
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayhttp.ErrorBody("empty token", relayhttp.CodeInvalidCredentials))
			return
		}

		claims, errJWT := security.ParseAdminToken(secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayhttp.ErrorBody("invalid token", relayhttp.CodeInvalidCredentials))
			return
		}

		var admin models.Admin
		if errFind := db.WithContext(c.Request.Context()).Select("id", "username", "active").First(&admin, claims.AdminID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, relayhttp.ErrorBody("admin not found", relayhttp.CodeInvalidCredentials))
			return
		}
		if !admin.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, relayhttp.ErrorBody("admin account is disabled", relayhttp.CodeInvalidCredentials))
			return
		}

		c.Set("adminID", admin.ID)
		c.Set("adminUsername", admin.Username)
		c.Next()
	}
}

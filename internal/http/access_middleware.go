package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/access"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/store"
)

// Context keys set by the admission middlewares.
const (
	ContextAppID      = "appID"
	ContextAppConfig  = "appConfig"
	ContextAuthMethod = "authMethod"
	ContextUserID     = "userID"
	ContextQuota      = "quotaStatus"
)

// Authenticator verifies application credentials on a request.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*access.Result, error)
}

// AccessAuthMiddleware verifies application credentials and injects the resolved application.
func AccessAuthMiddleware(authenticator Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if authenticator == nil {
			AbortWithError(c, access.ErrMissingCredentials)
			return
		}
		result, authErr := authenticator.Authenticate(c.Request.Context(), c.Request)
		if authErr != nil {
			metrics.Decision(metrics.StageCredentials, metrics.OutcomeDeny)
			AbortWithError(c, authErr)
			return
		}
		if result == nil {
			c.Next()
			return
		}
		metrics.Decision(metrics.StageCredentials, metrics.OutcomeAllow)
		c.Set(ContextAppID, result.AppID)
		c.Set(ContextAppConfig, result.Config)
		c.Set(ContextAuthMethod, result.Method)
		c.Next()
	}
}

// appConfigFromContext returns the application resolved by AccessAuthMiddleware.
func appConfigFromContext(c *gin.Context) (*store.ApplicationConfig, bool) {
	value, ok := c.Get(ContextAppConfig)
	if !ok {
		return nil, false
	}
	cfg, ok := value.(*store.ApplicationConfig)
	return cfg, ok && cfg != nil
}

// Package front registers the third-party facing gateway API.
package front

import (
	"time"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/http/api/front/handlers"
)

// Deps are the collaborators of the front routes.
type Deps struct {
	Pipeline    *relayhttp.Pipeline
	Secrets     handlers.SecretVerifier
	JWTSecret   string
	TokenExpiry time.Duration
}

// RegisterFrontRoutes registers token issuance, the quota query and every proxied route.
func RegisterFrontRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Pipeline == nil {
		return
	}

	tokenHandler := handlers.NewTokenHandler(deps.Secrets, deps.JWTSecret, deps.TokenExpiry)
	r.POST("/v1/oauth/token", tokenHandler.Issue)

	quotaHandler := handlers.NewQuotaHandler(deps.Pipeline.Quota)
	r.GET("/v1/quota", append(deps.Pipeline.Admission(), quotaHandler.Get)...)

	deps.Pipeline.RegisterProxyRoutes(r, relayhttp.Routes)
}

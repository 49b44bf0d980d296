package http

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// Pipeline bundles the admission collaborators.
type Pipeline struct {
	Authenticator Authenticator
	Authorizer    Authorizer
	RateLimiter   RateLimiter
	Quota         QuotaMeter
	Users         UserBinder
	OAuth         OAuthSource
	Forwarder     Forwarder
	Provisioner   Provisioner
}

// Admission returns the chain every authenticated, non-proxied route runs:
// credentials, scope, rate limit.
func (p *Pipeline) Admission() []gin.HandlerFunc {
	return []gin.HandlerFunc{
		AccessAuthMiddleware(p.Authenticator),
		RateLimitPeekMiddleware(p.RateLimiter),
		ScopeMiddleware(p.Authorizer),
		RateLimitMiddleware(p.RateLimiter),
	}
}

// Chain returns the full handler chain of route. Authorization stages precede the rate limiter.
func (p *Pipeline) Chain(route Route) []gin.HandlerFunc {
	chain := []gin.HandlerFunc{
		AccessAuthMiddleware(p.Authenticator),
		RateLimitPeekMiddleware(p.RateLimiter),
		ScopeMiddleware(p.Authorizer),
	}
	if route.LoginMethod != "" {
		chain = append(chain, LoginMethodMiddleware(route.LoginMethod, p.OAuth))
	}
	if route.UserScoped {
		chain = append(chain, UserBindingMiddleware(p.Users))
	}
	chain = append(chain, RateLimitMiddleware(p.RateLimiter))
	if route.Metered {
		chain = append(chain, QuotaMiddleware(p.Quota))
	}
	return append(chain, ProxyHandler(route, p.Forwarder, p.Quota, p.Users, p.Provisioner))
}

// RegisterProxyRoutes mounts every route of routes on r.
func (p *Pipeline) RegisterProxyRoutes(r gin.IRoutes, routes []Route) {
	for _, route := range routes {
		r.Handle(route.Method, route.Path, p.Chain(route)...)
	}
}

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// Package scope maps gateway routes to the capability an application must hold to call them.
package scope

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// ErrInsufficientScope indicates the application lacks the capability a route requires.
var ErrInsufficientScope = errors.New("insufficient scope")

// Capabilities granted to applications.
const (
	UserRead       = "user:read"
	UserWrite      = "user:write"
	UserRegister   = "user:register"
	AuthLogin      = "auth:login"
	AuthOAuth      = "auth:oauth"
	OrgRead        = "org:read"
	OrgWrite       = "org:write"
	BillingRead    = "billing:read"
	QuotaRead      = "quota:read"
	CompletionsUse = "ai:completions"
)

// Routes maps "METHOD /path" (gin full path) to the required capability.
// Routes absent from the table require no specific scope.
var Routes = map[string]string{
	"POST /v1/auth/register":                 UserRegister,
	"POST /v1/auth/login":                    AuthLogin,
	"GET /v1/auth/oauth/:provider":           AuthOAuth,
	"POST /v1/auth/oauth/:provider/callback": AuthOAuth,
	"GET /v1/users/:user_id":                 UserRead,
	"PATCH /v1/users/:user_id":               UserWrite,
	"GET /v1/orgs/:org_id":                   OrgRead,
	"POST /v1/orgs/:org_id/members":          OrgWrite,
	"GET /v1/billing/subscriptions":          BillingRead,
	"POST /v1/ai/completions":                CompletionsUse,
	"GET /v1/quota":                          QuotaRead,
}

// ScopeSource returns the granted scope set of an application.
type ScopeSource interface {
	ResolveScopes(ctx context.Context, appID string) ([]string, error)
}

// Authorizer checks routes against granted scopes.
type Authorizer struct {
	source ScopeSource
	routes map[string]string
}

// NewAuthorizer builds an Authorizer over routes. A nil table uses Routes.
func NewAuthorizer(source ScopeSource, routes map[string]string) *Authorizer {
	if routes == nil {
		routes = Routes
	}
	return &Authorizer{source: source, routes: routes}
}

// RouteKey builds the table key for a method and gin full path.
func RouteKey(method, fullPath string) string {
	return method + " " + fullPath
}

// Required returns the capability routeKey needs, if any.
func (a *Authorizer) Required(routeKey string) (string, bool) {
	capability, ok := a.routes[routeKey]
	return capability, ok && capability != ""
}

// Authorize allows the call or returns ErrInsufficientScope.
func (a *Authorizer) Authorize(ctx context.Context, appID, routeKey string) error {
	required, ok := a.Required(routeKey)
	if !ok {
		return nil
	}
	granted, err := a.source.ResolveScopes(ctx, appID)
	if err != nil {
		return fmt.Errorf("scope: resolve scopes: %w", err)
	}
	if !slices.Contains(granted, required) {
		return fmt.Errorf("%w: %s requires %s", ErrInsufficientScope, routeKey, required)
	}
	return nil
}

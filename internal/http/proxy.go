package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/downstream"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/provision"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

const (
	contextBody    = "requestBody"
	maxRequestBody = 4 << 20
)

// Forwarder sends admitted calls downstream.
type Forwarder interface {
	Forward(ctx context.Context, req downstream.Request) (*downstream.Response, error)
}

// Provisioner applies auto-provision rules to new users.
type Provisioner interface {
	Apply(ctx context.Context, appID string, userID uint64) provision.Report
}

// Route describes one proxied gateway route.
type Route struct {
	Method string
	Path   string

	Service  string
	Upstream string // downstream path; ":name" segments are filled from path parameters

	Metered      bool   // quota checked and deducted
	UserScoped   bool   // caller's user must be bound to the application
	Registration bool   // a created user is bound and provisioned
	LoginMethod  string // LoginMethodFromBody, LoginMethodFromOAuth, or empty
}

// Routes is the proxied route table.
var Routes = []Route{
	{Method: http.MethodPost, Path: "/v1/auth/register", Service: downstream.ServiceAuth, Upstream: "/register", Registration: true, LoginMethod: LoginMethodFromBody},
	{Method: http.MethodPost, Path: "/v1/auth/login", Service: downstream.ServiceAuth, Upstream: "/login", LoginMethod: LoginMethodFromBody},
	{Method: http.MethodGet, Path: "/v1/auth/oauth/:provider", Service: downstream.ServiceAuth, Upstream: "/oauth/:provider", LoginMethod: LoginMethodFromOAuth},
	{Method: http.MethodPost, Path: "/v1/auth/oauth/:provider/callback", Service: downstream.ServiceAuth, Upstream: "/oauth/:provider/callback", Registration: true, LoginMethod: LoginMethodFromOAuth},
	{Method: http.MethodGet, Path: "/v1/users/:user_id", Service: downstream.ServiceUser, Upstream: "/users/:user_id", UserScoped: true},
	{Method: http.MethodPatch, Path: "/v1/users/:user_id", Service: downstream.ServiceUser, Upstream: "/users/:user_id", UserScoped: true},
	{Method: http.MethodGet, Path: "/v1/orgs/:org_id", Service: downstream.ServiceOrganization, Upstream: "/orgs/:org_id"},
	{Method: http.MethodPost, Path: "/v1/orgs/:org_id/members", Service: downstream.ServiceOrganization, Upstream: "/orgs/:org_id/members", UserScoped: true},
	{Method: http.MethodGet, Path: "/v1/billing/subscriptions", Service: downstream.ServiceSubscription, Upstream: "/subscriptions", UserScoped: true},
	{Method: http.MethodPost, Path: "/v1/ai/completions", Service: downstream.ServiceAI, Upstream: "/completions", Metered: true},
}

// upstreamPath fills ":name" segments of pattern from the request's path parameters.
func upstreamPath(c *gin.Context, pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			segments[i] = c.Param(seg[1:])
		}
	}
	return strings.Join(segments, "/")
}

// readBody reads the request body once and keeps it on the context for later stages.
// Bodies above maxRequestBody are rejected rather than truncated.
func readBody(c *gin.Context) ([]byte, error) {
	if cached, ok := c.Get(contextBody); ok {
		if body, okBody := cached.([]byte); okBody {
			return body, nil
		}
	}
	if c.Request.Body == nil {
		c.Set(contextBody, []byte(nil))
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBody+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxRequestBody {
		return nil, ErrBodyTooLarge
	}
	c.Set(contextBody, body)
	return body, nil
}

func abortBodyError(c *gin.Context, err error) {
	if errors.Is(err, ErrBodyTooLarge) {
		AbortWithError(c, err)
		return
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody("Invalid request body", CodeInvalidRequest))
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

// ProxyHandler forwards the call, deducts reported token usage on metered routes,
// and on registration routes binds and provisions the created user before replying.
func ProxyHandler(route Route, forwarder Forwarder, meter QuotaMeter, binder UserBinder, provisioner Provisioner) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readBody(c)
		if err != nil {
			abortBodyError(c, err)
			return
		}
		appID := c.GetString(ContextAppID)
		header := c.Request.Header.Clone()
		if userID, ok := c.Get(ContextUserID); ok {
			if id, okID := userID.(uint64); okID {
				header.Set(HeaderUserID, formatUint(id))
			}
		}

		resp, err := forwarder.Forward(c.Request.Context(), downstream.Request{
			Service: route.Service,
			Method:  route.Method,
			Path:    upstreamPath(c, route.Upstream),
			Query:   c.Request.URL.RawQuery,
			Header:  header,
			Body:    body,
			AppID:   appID,
		})
		if err != nil {
			// No reply means no usage report, so nothing is deducted for tokens.
			metrics.Decision(metrics.StageDownstream, metrics.OutcomeError)
			AbortWithError(c, err)
			return
		}
		metrics.Decision(metrics.StageDownstream, metrics.OutcomeAllow)

		// Deduction and provisioning must outlive a client disconnect.
		ctx := context.WithoutCancel(c.Request.Context())
		if route.Metered && meter != nil {
			meter.DeductToken(ctx, appID, resp.Tokens)
		}
		if route.Registration && resp.Success() && resp.NewUser {
			fields := log.Fields{"app_id": appID, "user_id": resp.NewUserID, "route": route.Path}
			if binder != nil {
				if errBind := binder.BindUser(ctx, appID, resp.NewUserID); errBind != nil {
					log.WithError(errBind).WithFields(fields).Warn("bind registered user failed")
				}
			}
			if provisioner != nil {
				report := provisioner.Apply(ctx, appID, resp.NewUserID)
				if failed := report.Failed(); len(failed) > 0 {
					log.WithFields(fields).WithField("failed_steps", len(failed)).Warn("auto-provision completed with failures")
				}
			}
		}

		contentType := resp.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(resp.Status, contentType, resp.Body)
	}
}

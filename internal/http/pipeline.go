package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/metrics"
	"github.com/router-for-me/AppGateway/internal/quota"
	"github.com/router-for-me/AppGateway/internal/ratelimit"
	"github.com/router-for-me/AppGateway/internal/scope"
	"github.com/router-for-me/AppGateway/internal/store"
	"github.com/tidwall/gjson"
)

// Response headers.
const (
	HeaderUserID = "X-User-Id"

	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"

	HeaderQuotaRequestLimit     = "X-Quota-Request-Limit"
	HeaderQuotaRequestUsed      = "X-Quota-Request-Used"
	HeaderQuotaRequestRemaining = "X-Quota-Request-Remaining"
	HeaderQuotaRequestReset     = "X-Quota-Request-Reset"
	HeaderQuotaTokenLimit       = "X-Quota-Token-Limit"
	HeaderQuotaTokenUsed        = "X-Quota-Token-Used"
	HeaderQuotaTokenRemaining   = "X-Quota-Token-Remaining"
	HeaderQuotaTokenReset       = "X-Quota-Token-Reset"
	HeaderQuotaWarning          = "X-Quota-Warning"
)

// Authorizer checks route capabilities.
type Authorizer interface {
	Authorize(ctx context.Context, appID, routeKey string) error
}

// RateLimiter admits calls against a per-minute ceiling. Peek reads the window without recording.
type RateLimiter interface {
	Check(ctx context.Context, appID string, ceiling int) ratelimit.Decision
	Peek(ctx context.Context, appID string, ceiling int) ratelimit.Decision
}

const contextRateLimiter = "rateLimiter"

// RateLimitPeekMiddleware makes limiter available to stages that reject before the limiter runs,
// so their replies carry the window headers too.
func RateLimitPeekMiddleware(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil {
			c.Set(contextRateLimiter, limiter)
		}
		c.Next()
	}
}

// abortRejected writes the current window headers and aborts with err.
func abortRejected(c *gin.Context, err error) {
	if value, ok := c.Get(contextRateLimiter); ok {
		if limiter, okLimiter := value.(RateLimiter); okLimiter {
			if cfg, okCfg := appConfigFromContext(c); okCfg {
				writeRateLimitHeaders(c, limiter.Peek(c.Request.Context(), cfg.AppID, cfg.RateLimit))
			}
		}
	}
	AbortWithError(c, err)
}

func writeRateLimitHeaders(c *gin.Context, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	c.Header(HeaderRateLimitLimit, strconv.Itoa(d.Limit))
	c.Header(HeaderRateLimitRemaining, strconv.Itoa(d.Remaining))
	c.Header(HeaderRateLimitReset, strconv.FormatInt(d.ResetEpoch, 10))
}

// QuotaMeter checks and deducts per-cycle quota.
type QuotaMeter interface {
	Check(ctx context.Context, appID string) (quota.Status, error)
	DeductRequest(ctx context.Context, appID string)
	DeductToken(ctx context.Context, appID string, amount float64)
}

// UserBinder records and checks application-user bindings.
type UserBinder interface {
	IsUserBound(ctx context.Context, appID string, userID uint64) (bool, error)
	BindUser(ctx context.Context, appID string, userID uint64) error
}

// OAuthSource resolves OAuth provider sub-configurations.
type OAuthSource interface {
	ResolveOAuth(ctx context.Context, appID, provider string) (*store.OAuthConfig, error)
}

// ScopeMiddleware rejects calls whose application lacks the capability of the matched route.
func ScopeMiddleware(authorizer Authorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.GetString(ContextAppID)
		if err := authorizer.Authorize(c.Request.Context(), appID, scope.RouteKey(c.Request.Method, c.FullPath())); err != nil {
			metrics.Decision(metrics.StageScope, metrics.OutcomeDeny)
			abortRejected(c, err)
			return
		}
		metrics.Decision(metrics.StageScope, metrics.OutcomeAllow)
		c.Next()
	}
}

// RateLimitMiddleware applies the application's requests-per-minute ceiling.
func RateLimitMiddleware(limiter RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, ok := appConfigFromContext(c)
		if !ok {
			c.Next()
			return
		}
		d := limiter.Check(c.Request.Context(), cfg.AppID, cfg.RateLimit)
		writeRateLimitHeaders(c, d)
		switch {
		case !d.Allowed:
			metrics.Decision(metrics.StageRateLimit, metrics.OutcomeDeny)
			c.Header("Retry-After", strconv.Itoa(d.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"code":        CodeRateLimited,
				"retry_after": d.RetryAfterSeconds,
			})
			return
		case d.Degraded:
			metrics.Decision(metrics.StageRateLimit, metrics.OutcomeDegraded)
		default:
			metrics.Decision(metrics.StageRateLimit, metrics.OutcomeAllow)
		}
		c.Next()
	}
}

// QuotaMiddleware checks quota before forwarding and deducts one request on admission.
// Token usage is deducted by the forwarding handler once the downstream reply is known.
func QuotaMiddleware(meter QuotaMeter) gin.HandlerFunc {
	return func(c *gin.Context) {
		appID := c.GetString(ContextAppID)
		ctx := c.Request.Context()
		status, err := meter.Check(ctx, appID)
		if err != nil {
			metrics.Decision(metrics.StageQuota, metrics.OutcomeError)
			AbortWithError(c, err)
			return
		}
		writeQuotaHeaders(c, status)
		if !status.Allowed {
			metrics.Decision(metrics.StageQuota, metrics.OutcomeDeny)
			AbortWithErrorExtra(c, status.Err(), gin.H{"reset_at": status.ResetEpoch()})
			return
		}
		if status.Degraded {
			metrics.Decision(metrics.StageQuota, metrics.OutcomeDegraded)
		} else {
			metrics.Decision(metrics.StageQuota, metrics.OutcomeAllow)
		}
		c.Set(ContextQuota, status)
		meter.DeductRequest(ctx, appID)
		c.Next()
	}
}

func writeQuotaHeaders(c *gin.Context, s quota.Status) {
	if s.ErrorCode == quota.CodeNotConfigured {
		return
	}
	reset := ""
	if epoch := s.ResetEpoch(); epoch > 0 {
		reset = strconv.FormatInt(epoch, 10)
	}
	c.Header(HeaderQuotaRequestLimit, strconv.FormatInt(s.RequestLimit, 10))
	c.Header(HeaderQuotaRequestUsed, strconv.FormatInt(s.RequestUsed, 10))
	c.Header(HeaderQuotaRequestRemaining, strconv.FormatInt(s.RequestRemaining, 10))
	c.Header(HeaderQuotaTokenLimit, strconv.FormatInt(s.TokenLimit, 10))
	c.Header(HeaderQuotaTokenUsed, formatFloat(s.TokenUsed))
	c.Header(HeaderQuotaTokenRemaining, formatFloat(s.TokenRemaining))
	if reset != "" {
		c.Header(HeaderQuotaRequestReset, reset)
		c.Header(HeaderQuotaTokenReset, reset)
	}
	if s.Warning != "" {
		c.Header(HeaderQuotaWarning, s.Warning)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// UserBindingMiddleware requires the user of a user-scoped route to be bound to the application.
// The user comes from the user_id path parameter, else the X-User-Id header.
func UserBindingMiddleware(binder UserBinder) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.Param("user_id"))
		if raw == "" {
			raw = strings.TrimSpace(c.GetHeader(HeaderUserID))
		}
		userID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || userID == 0 {
			metrics.Decision(metrics.StageUserBinding, metrics.OutcomeDeny)
			abortRejected(c, ErrUserNotBound)
			return
		}
		bound, err := binder.IsUserBound(c.Request.Context(), c.GetString(ContextAppID), userID)
		if err != nil {
			metrics.Decision(metrics.StageUserBinding, metrics.OutcomeError)
			abortRejected(c, err)
			return
		}
		if !bound {
			metrics.Decision(metrics.StageUserBinding, metrics.OutcomeDeny)
			abortRejected(c, ErrUserNotBound)
			return
		}
		metrics.Decision(metrics.StageUserBinding, metrics.OutcomeAllow)
		c.Set(ContextUserID, userID)
		c.Next()
	}
}

// Login method sources for LoginMethodMiddleware.
const (
	LoginMethodFromBody  = "body"
	LoginMethodFromOAuth = "oauth"
)

// DefaultLoginMethod applies when a login or registration body names no method.
const DefaultLoginMethod = "email"

// LoginMethodMiddleware rejects logins through a method the application has not enabled.
// For OAuth routes the provider must also have a sub-configuration.
func LoginMethodMiddleware(source string, oauth OAuthSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		cfg, ok := appConfigFromContext(c)
		if !ok {
			abortRejected(c, ErrLoginMethodDisabled)
			return
		}
		switch source {
		case LoginMethodFromOAuth:
			provider := strings.ToLower(strings.TrimSpace(c.Param("provider")))
			if !cfg.HasLoginMethod("oauth") && !cfg.HasLoginMethod("oauth:"+provider) {
				abortRejected(c, ErrLoginMethodDisabled)
				return
			}
			if _, err := oauth.ResolveOAuth(c.Request.Context(), cfg.AppID, provider); err != nil {
				if isNotFound(err) {
					err = ErrLoginMethodDisabled
				}
				abortRejected(c, err)
				return
			}
		default:
			body, err := readBody(c)
			if err != nil {
				abortBodyError(c, err)
				return
			}
			method := strings.ToLower(strings.TrimSpace(gjson.GetBytes(body, "method").String()))
			if method == "" {
				method = DefaultLoginMethod
			}
			if !cfg.HasLoginMethod(method) {
				abortRejected(c, ErrLoginMethodDisabled)
				return
			}
		}
		c.Next()
	}
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/access"
	"github.com/router-for-me/AppGateway/internal/applications"
	"github.com/router-for-me/AppGateway/internal/directory"
	"github.com/router-for-me/AppGateway/internal/downstream"
	"github.com/router-for-me/AppGateway/internal/quota"
	"github.com/router-for-me/AppGateway/internal/scope"
	"github.com/router-for-me/AppGateway/internal/store"
	log "github.com/sirupsen/logrus"
)

// Machine-readable error codes returned in the "code" field.
const (
	CodeMissingCredentials  = "missing_credentials"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeApplicationDisabled = "application_disabled"
	CodeInsufficientScope   = "insufficient_scope"
	CodeUserNotBound        = "user_not_bound"
	CodeLoginMethodDisabled = "login_method_disabled"
	CodeRateLimited         = "rate_limited"
	CodeInvalidQuotaValue   = "invalid_quota_value"
	CodeInvalidRequest      = "invalid_request"
	CodeNotFound            = "not_found"
	CodeServiceUnavailable  = "service_unavailable"
)

var (
	// ErrUserNotBound indicates the user on a user-scoped route did not register through the calling application.
	ErrUserNotBound = errors.New("user not bound to application")
	// ErrLoginMethodDisabled indicates the application has not enabled the requested login method.
	ErrLoginMethodDisabled = errors.New("login method disabled")
	// ErrBodyTooLarge indicates a request body above the forwarding limit.
	ErrBodyTooLarge = errors.New("request body too large")
)

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

var errorMappings = []errorMapping{
	{access.ErrMissingCredentials, http.StatusUnauthorized, CodeMissingCredentials, "Missing application credentials"},
	{access.ErrInvalidCredentials, http.StatusUnauthorized, CodeInvalidCredentials, "Invalid application credentials"},
	{access.ErrApplicationDisabled, http.StatusForbidden, CodeApplicationDisabled, "Application is disabled"},
	{scope.ErrInsufficientScope, http.StatusForbidden, CodeInsufficientScope, "Application lacks the scope this route requires"},
	{ErrUserNotBound, http.StatusForbidden, CodeUserNotBound, "User is not bound to this application"},
	{ErrLoginMethodDisabled, http.StatusForbidden, CodeLoginMethodDisabled, "Login method is not enabled for this application"},
	{quota.ErrNotConfigured, http.StatusForbidden, quota.CodeNotConfigured, "Quota is not configured for this application"},
	{quota.ErrRequestQuotaExceeded, http.StatusTooManyRequests, quota.CodeRequestExceeded, "Request quota exhausted for this cycle"},
	{quota.ErrTokenQuotaExceeded, http.StatusTooManyRequests, quota.CodeTokenExceeded, "Token quota exhausted for this cycle"},
	{ErrBodyTooLarge, http.StatusRequestEntityTooLarge, CodeInvalidRequest, "Request body too large"},
	{store.ErrInvalidQuota, http.StatusBadRequest, CodeInvalidQuotaValue, "Invalid quota value"},
	{directory.ErrUnknownReference, http.StatusBadRequest, CodeInvalidRequest, "Rule references an unknown entity"},
	{applications.ErrInvalidStatus, http.StatusBadRequest, CodeInvalidRequest, "Invalid status"},
	{applications.ErrInvalidRateLimit, http.StatusBadRequest, CodeInvalidRequest, "Invalid rate limit"},
	{applications.ErrInvalidName, http.StatusBadRequest, CodeInvalidRequest, "Name is required"},
	{store.ErrNotFound, http.StatusNotFound, CodeNotFound, "Not found"},
	{downstream.ErrUnrecognized, http.StatusBadGateway, CodeServiceUnavailable, "Service unavailable"},
}

// ErrorBody builds the JSON error body.
func ErrorBody(message, code string) gin.H {
	return gin.H{"error": message, "code": code}
}

// AbortWithError maps err onto the error taxonomy and aborts the request. Unclassified
// errors become a generic service-unavailable reply and are logged, never echoed.
func AbortWithError(c *gin.Context, err error) {
	AbortWithErrorExtra(c, err, nil)
}

// AbortWithErrorExtra is AbortWithError with additional body fields.
func AbortWithErrorExtra(c *gin.Context, err error, extra gin.H) {
	status, code, message := Classify(err)
	if code == CodeServiceUnavailable {
		log.WithError(err).WithFields(log.Fields{"route": c.FullPath(), "app_id": c.GetString(ContextAppID)}).Warn("request failed")
	}
	body := ErrorBody(message, code)
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// Classify returns the status, code and message for err.
func Classify(err error) (int, string, string) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, m.code, m.message
		}
	}
	return http.StatusServiceUnavailable, CodeServiceUnavailable, "Service unavailable"
}

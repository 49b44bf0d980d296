package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/access"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/security"
	"github.com/router-for-me/AppGateway/internal/store"
)

// SecretVerifier checks application id and secret pairs.
type SecretVerifier interface {
	VerifySecret(ctx context.Context, appID, secret string) (*store.ApplicationConfig, error)
}

// TokenHandler exchanges application credentials for short-lived bearer tokens.
type TokenHandler struct {
	verifier SecretVerifier
	secret   string
	expiry   time.Duration
}

// NewTokenHandler constructs a TokenHandler.
func NewTokenHandler(verifier SecretVerifier, jwtSecret string, expiry time.Duration) *TokenHandler {
	if expiry <= 0 {
		expiry = time.Hour
	}
	return &TokenHandler{verifier: verifier, secret: jwtSecret, expiry: expiry}
}

// tokenRequest accepts both the gateway field names and client-credentials form names.
type tokenRequest struct {
	AppID        string `json:"app_id" form:"app_id"`
	AppSecret    string `json:"app_secret" form:"app_secret"`
	ClientID     string `json:"client_id" form:"client_id"`
	ClientSecret string `json:"client_secret" form:"client_secret"`
}

// Issue verifies the credentials and returns a bearer token bound to the application.
func (h *TokenHandler) Issue(c *gin.Context) {
	var body tokenRequest
	if c.Request.ContentLength != 0 {
		if errBind := c.ShouldBind(&body); errBind != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, relayhttp.ErrorBody("Invalid request body", relayhttp.CodeInvalidRequest))
			return
		}
	}
	appID := firstNonEmpty(body.AppID, body.ClientID, c.GetHeader(access.HeaderAppID))
	secret := firstNonEmpty(body.AppSecret, body.ClientSecret, c.GetHeader(access.HeaderAppSecret))
	if appID == "" || secret == "" {
		relayhttp.AbortWithError(c, access.ErrMissingCredentials)
		return
	}

	cfg, err := h.verifier.VerifySecret(c.Request.Context(), appID, secret)
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	token, expiresAt, err := security.GenerateAppToken(h.secret, cfg.AppID, h.expiry)
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int64(h.expiry / time.Second),
		"expires_at":   expiresAt.Unix(),
		"app_id":       cfg.AppID,
	})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

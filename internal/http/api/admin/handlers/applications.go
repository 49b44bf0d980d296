package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/AppGateway/internal/applications"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/store"
)

// ApplicationService is the application write path.
type ApplicationService interface {
	Create(ctx context.Context, in applications.CreateInput, actor string) (*applications.Created, error)
	SetStatus(ctx context.Context, appID, status, actor string) error
	SetScopes(ctx context.Context, appID string, scopes []string, actor string) error
	SetLoginMethods(ctx context.Context, appID string, methods []string, actor string) error
	SetRateLimit(ctx context.Context, appID string, limit int, actor string) error
	ResetSecret(ctx context.Context, appID, actor string) (string, error)
	SaveOAuth(ctx context.Context, cfg *store.OAuthConfig, actor string) error
}

// ApplicationReader loads applications.
type ApplicationReader interface {
	LoadApplication(ctx context.Context, appID string) (*store.ApplicationConfig, error)
}

// ApplicationHandler handles admin application endpoints.
type ApplicationHandler struct {
	service ApplicationService
	reader  ApplicationReader
}

// NewApplicationHandler constructs an ApplicationHandler.
func NewApplicationHandler(service ApplicationService, reader ApplicationReader) *ApplicationHandler {
	return &ApplicationHandler{service: service, reader: reader}
}

func applicationView(cfg *store.ApplicationConfig) gin.H {
	return gin.H{
		"app_id":        cfg.AppID,
		"name":          cfg.Name,
		"status":        cfg.Status,
		"rate_limit":    cfg.RateLimit,
		"scopes":        cfg.Scopes,
		"login_methods": cfg.LoginMethods,
		"updated_at":    cfg.UpdatedAt,
	}
}

// Create registers an application and returns its secret once.
func (h *ApplicationHandler) Create(c *gin.Context) {
	var body applications.CreateInput
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	created, err := h.service.Create(c.Request.Context(), body, actor(c))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	view := applicationView(created.Config)
	view["app_secret"] = created.Secret
	c.JSON(http.StatusCreated, view)
}

// Get returns one application.
func (h *ApplicationHandler) Get(c *gin.Context) {
	cfg, err := h.reader.LoadApplication(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, applicationView(cfg))
}

type statusRequest struct {
	Status string `json:"status"`
}

// SetStatus enables or disables an application.
func (h *ApplicationHandler) SetStatus(c *gin.Context) {
	var body statusRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	h.respond(c, h.service.SetStatus(c.Request.Context(), c.Param("app_id"), strings.ToLower(strings.TrimSpace(body.Status)), actor(c)))
}

type scopesRequest struct {
	Scopes []string `json:"scopes"`
}

// SetScopes replaces the granted scopes.
func (h *ApplicationHandler) SetScopes(c *gin.Context) {
	var body scopesRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	h.respond(c, h.service.SetScopes(c.Request.Context(), c.Param("app_id"), body.Scopes, actor(c)))
}

type loginMethodsRequest struct {
	LoginMethods []string `json:"login_methods"`
}

// SetLoginMethods replaces the enabled login methods.
func (h *ApplicationHandler) SetLoginMethods(c *gin.Context) {
	var body loginMethodsRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	h.respond(c, h.service.SetLoginMethods(c.Request.Context(), c.Param("app_id"), body.LoginMethods, actor(c)))
}

type rateLimitRequest struct {
	RateLimit *int `json:"rate_limit"`
}

// SetRateLimit changes the per-minute ceiling.
func (h *ApplicationHandler) SetRateLimit(c *gin.Context) {
	var body rateLimitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.RateLimit == nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("rate_limit is required", relayhttp.CodeInvalidRequest))
		return
	}
	h.respond(c, h.service.SetRateLimit(c.Request.Context(), c.Param("app_id"), *body.RateLimit, actor(c)))
}

// ResetSecret issues a new secret and returns it once.
func (h *ApplicationHandler) ResetSecret(c *gin.Context) {
	secret, err := h.service.ResetSecret(c.Request.Context(), c.Param("app_id"), actor(c))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": c.Param("app_id"), "app_secret": secret})
}

type oauthRequest struct {
	ClientID         string `json:"client_id"`
	SecretCiphertext []byte `json:"secret_ciphertext"`
	RedirectURL      string `json:"redirect_url"`
}

// SaveOAuth stores a provider sub-configuration. The client secret arrives already encrypted.
func (h *ApplicationHandler) SaveOAuth(c *gin.Context) {
	var body oauthRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || strings.TrimSpace(body.ClientID) == "" {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("client_id is required", relayhttp.CodeInvalidRequest))
		return
	}
	h.respond(c, h.service.SaveOAuth(c.Request.Context(), &store.OAuthConfig{
		AppID:            c.Param("app_id"),
		Provider:         c.Param("provider"),
		ClientID:         strings.TrimSpace(body.ClientID),
		SecretCiphertext: body.SecretCiphertext,
		RedirectURL:      strings.TrimSpace(body.RedirectURL),
	}, actor(c)))
}

func (h *ApplicationHandler) respond(c *gin.Context, err error) {
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

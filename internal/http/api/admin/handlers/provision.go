package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/store"
)

// RuleService saves and loads auto-provision rules.
type RuleService interface {
	SaveRule(ctx context.Context, rule *store.ProvisionRule, actor string) error
}

// RuleReader loads auto-provision rules.
type RuleReader interface {
	LoadProvisionRule(ctx context.Context, appID string) (*store.ProvisionRule, error)
}

// ProvisionHandler handles auto-provision rule endpoints.
type ProvisionHandler struct {
	service RuleService
	reader  RuleReader
}

// NewProvisionHandler constructs a ProvisionHandler.
func NewProvisionHandler(service RuleService, reader RuleReader) *ProvisionHandler {
	return &ProvisionHandler{service: service, reader: reader}
}

// Get returns the rule of an application.
func (h *ProvisionHandler) Get(c *gin.Context) {
	rule, err := h.reader.LoadProvisionRule(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

// Save validates and stores the rule of an application.
func (h *ProvisionHandler) Save(c *gin.Context) {
	var rule store.ProvisionRule
	if errBind := c.ShouldBindJSON(&rule); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	rule.AppID = c.Param("app_id")
	if err := h.service.SaveRule(c.Request.Context(), &rule, actor(c)); err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/store"
)

// QuotaService is the quota administration path.
type QuotaService interface {
	SavePlan(ctx context.Context, plan *store.Plan) error
	BindPlan(ctx context.Context, appID string, planID uint64, actor string) (string, error)
	SetOverride(ctx context.Context, appID string, o store.Override, actor string) error
	ClearOverride(ctx context.Context, appID, actor string) error
	ManualReset(ctx context.Context, appID, actor string) error
}

// QuotaReader reads quota configuration and history.
type QuotaReader interface {
	LoadQuota(ctx context.Context, appID string) (*store.QuotaBinding, error)
	ListSnapshots(ctx context.Context, appID string, limit int) ([]models.UsageSnapshot, error)
}

// QuotaHandler handles admin quota endpoints.
type QuotaHandler struct {
	service QuotaService
	reader  QuotaReader
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(service QuotaService, reader QuotaReader) *QuotaHandler {
	return &QuotaHandler{service: service, reader: reader}
}

// SavePlan creates a plan, or updates it when the route carries an id.
func (h *QuotaHandler) SavePlan(c *gin.Context) {
	var plan store.Plan
	if errBind := c.ShouldBindJSON(&plan); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	plan.ID = 0
	status := http.StatusCreated
	if c.Param("id") != "" {
		id, ok := parseIDParam(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid plan id", relayhttp.CodeInvalidRequest))
			return
		}
		plan.ID = id
		status = http.StatusOK
	}
	plan.Name = strings.TrimSpace(plan.Name)
	if plan.Name == "" {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("name is required", relayhttp.CodeInvalidRequest))
		return
	}
	if err := h.service.SavePlan(c.Request.Context(), &plan); err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(status, plan)
}

type bindPlanRequest struct {
	PlanID uint64 `json:"plan_id"`
}

// BindPlan binds an application to a plan.
func (h *QuotaHandler) BindPlan(c *gin.Context) {
	var body bindPlanRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || body.PlanID == 0 {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("plan_id is required", relayhttp.CodeInvalidRequest))
		return
	}
	outcome, err := h.service.BindPlan(c.Request.Context(), c.Param("app_id"), body.PlanID, actor(c))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"app_id": c.Param("app_id"), "plan_id": body.PlanID, "applies": outcome})
}

// Get returns the quota binding of an application.
func (h *QuotaHandler) Get(c *gin.Context) {
	binding, err := h.reader.LoadQuota(c.Request.Context(), c.Param("app_id"))
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, binding)
}

// SetOverride replaces the override of an application.
func (h *QuotaHandler) SetOverride(c *gin.Context) {
	var body store.Override
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}
	if err := h.service.SetOverride(c.Request.Context(), c.Param("app_id"), body, actor(c)); err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ClearOverride removes the override of an application.
func (h *QuotaHandler) ClearOverride(c *gin.Context) {
	if err := h.service.ClearOverride(c.Request.Context(), c.Param("app_id"), actor(c)); err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Reset closes the current cycle of an application immediately.
func (h *QuotaHandler) Reset(c *gin.Context) {
	if err := h.service.ManualReset(c.Request.Context(), c.Param("app_id"), actor(c)); err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Snapshots lists closed cycles, newest first.
func (h *QuotaHandler) Snapshots(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}
	rows, err := h.reader.ListSnapshots(c.Request.Context(), c.Param("app_id"), limit)
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, gin.H{
			"cycle_start":   row.CycleStart,
			"cycle_end":     row.CycleEnd,
			"request_limit": row.RequestLimit,
			"token_limit":   row.TokenLimit,
			"requests_used": row.RequestsUsed,
			"tokens_used":   row.TokensUsed,
			"reset_cause":   row.ResetCause,
		})
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": out})
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/quota"
)

// QuotaHandler serves the live quota view of the calling application.
type QuotaHandler struct {
	meter relayhttp.QuotaMeter
}

// NewQuotaHandler constructs a QuotaHandler.
func NewQuotaHandler(meter relayhttp.QuotaMeter) *QuotaHandler {
	return &QuotaHandler{meter: meter}
}

// Get returns current-cycle usage read from the live counters.
func (h *QuotaHandler) Get(c *gin.Context) {
	appID := c.GetString(relayhttp.ContextAppID)
	status, err := h.meter.Check(c.Request.Context(), appID)
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	if status.ErrorCode == quota.CodeNotConfigured {
		relayhttp.AbortWithError(c, quota.ErrNotConfigured)
		return
	}
	body := gin.H{
		"app_id":  appID,
		"allowed": status.Allowed,
		"requests": gin.H{
			"limit":     status.RequestLimit,
			"used":      status.RequestUsed,
			"remaining": status.RequestRemaining,
		},
		"tokens": gin.H{
			"limit":     status.TokenLimit,
			"used":      status.TokenUsed,
			"remaining": status.TokenRemaining,
		},
		"reset_at": status.ResetEpoch(),
		"degraded": status.Degraded,
	}
	if !status.CycleStart.IsZero() {
		body["cycle_start"] = status.CycleStart.Unix()
	}
	if status.ErrorCode != "" {
		body["code"] = status.ErrorCode
	}
	if status.Warning != "" {
		body["warning"] = status.Warning
	}
	c.JSON(http.StatusOK, body)
}

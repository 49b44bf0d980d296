package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/models"
)

// AuditReader lists audit events.
type AuditReader interface {
	List(ctx context.Context, appID string, limit int) ([]models.AuditLog, error)
}

// AuditHandler serves audit history.
type AuditHandler struct {
	reader AuditReader
}

// NewAuditHandler constructs an AuditHandler.
func NewAuditHandler(reader AuditReader) *AuditHandler {
	return &AuditHandler{reader: reader}
}

// List returns the audit events of an application, newest first.
func (h *AuditHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	rows, err := h.reader.List(c.Request.Context(), c.Param("app_id"), limit)
	if err != nil {
		relayhttp.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

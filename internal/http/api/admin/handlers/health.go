package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves health check endpoints.
type HealthHandler struct {
	db       *gorm.DB
	counters Pinger
}

// NewHealthHandler constructs a HealthHandler. counters may be nil.
func NewHealthHandler(db *gorm.DB, counters Pinger) *HealthHandler {
	return &HealthHandler{db: db, counters: counters}
}

// Healthz checks database and counter store connectivity. An unreachable counter
// store is reported without failing the check.
func (h *HealthHandler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	sqlDB, err := h.db.DB()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "database": false})
		return
	}
	if errPing := sqlDB.PingContext(ctx); errPing != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "database": false})
		return
	}
	redisOK := h.counters != nil && h.counters.Ping(ctx) == nil
	c.JSON(http.StatusOK, gin.H{"ok": true, "database": true, "redis": redisOK})
}

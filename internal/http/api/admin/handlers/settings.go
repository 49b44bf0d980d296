package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	internalsettings "github.com/router-for-me/AppGateway/internal/settings"
	"gorm.io/gorm"
)

// SettingsHandler updates runtime settings.
type SettingsHandler struct {
	db *gorm.DB
}

// NewSettingsHandler constructs a SettingsHandler.
func NewSettingsHandler(db *gorm.DB) *SettingsHandler {
	return &SettingsHandler{db: db}
}

type settingRequest struct {
	Value json.RawMessage `json:"value"`
}

// Put stores one setting and refreshes the in-process snapshot.
func (h *SettingsHandler) Put(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if !internalsettings.Known(key) {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("unknown setting", relayhttp.CodeInvalidRequest))
		return
	}
	var body settingRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil || len(body.Value) == 0 {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("value is required", relayhttp.CodeInvalidRequest))
		return
	}
	if err := internalsettings.Put(c.Request.Context(), h.db, key, body.Value); err != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid setting value", relayhttp.CodeInvalidRequest))
		return
	}
	c.JSON(http.StatusOK, gin.H{"key": key, "value": body.Value})
}

package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
)

// actor identifies the signed-in admin for audit records.
func actor(c *gin.Context) string {
	if username := c.GetString("adminUsername"); username != "" {
		return "admin:" + username
	}
	if id, ok := c.Get("adminID"); ok {
		if value, okID := id.(uint64); okID {
			return "admin:" + strconv.FormatUint(value, 10)
		}
	}
	return "admin"
}

func parseIDParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}

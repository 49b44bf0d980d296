package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	relayhttp "github.com/router-for-me/AppGateway/internal/http"
	"github.com/router-for-me/AppGateway/internal/models"
	"github.com/router-for-me/AppGateway/internal/security"
	"gorm.io/gorm"
)

// AuthHandler handles admin authentication endpoints.
type AuthHandler struct {
	db     *gorm.DB
	secret string
	expiry time.Duration
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, secret string, expiry time.Duration) *AuthHandler {
	if expiry <= 0 {
		expiry = 12 * time.Hour
	}
	return &AuthHandler{db: db, secret: secret, expiry: expiry}
}

// loginRequest defines the request body for admin login.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login authenticates an admin and issues an admin JWT.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("invalid json", relayhttp.CodeInvalidRequest))
		return
	}

	username := strings.TrimSpace(body.Username)
	password := strings.TrimSpace(body.Password)
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, relayhttp.ErrorBody("username and password are required", relayhttp.CodeInvalidRequest))
		return
	}

	var admin models.Admin
	if errFind := h.db.WithContext(c.Request.Context()).Where("username = ?", username).First(&admin).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, relayhttp.ErrorBody("invalid credentials", relayhttp.CodeInvalidCredentials))
		return
	}
	if !security.CheckPassword(admin.Password, password) {
		c.JSON(http.StatusUnauthorized, relayhttp.ErrorBody("invalid credentials", relayhttp.CodeInvalidCredentials))
		return
	}
	if !admin.Active {
		c.JSON(http.StatusForbidden, relayhttp.ErrorBody("admin account is disabled", relayhttp.CodeInvalidCredentials))
		return
	}

	token, errToken := security.GenerateAdminToken(h.secret, admin.ID, admin.Username, h.expiry)
	if errToken != nil {
		c.JSON(http.StatusInternalServerError, relayhttp.ErrorBody("generate token failed", relayhttp.CodeServiceUnavailable))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_in": int64(h.expiry / time.Second),
		"admin":      gin.H{"id": admin.ID, "username": admin.Username},
	})
}

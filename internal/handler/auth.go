package handler

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"omniclip/internal/auth"
	"omniclip/internal/middleware"
)

// AuthHandler trades the control secret for a bearer token.
type AuthHandler struct {
	Secret             string
	TokenConfig        auth.TokenConfig
	AuthRequestLimiter *middleware.RateLimiter
}

type authBody struct {
	ClientID string   `json:"client_id" binding:"required"`
	Secret   string   `json:"secret" binding:"required"`
	Scopes   []string `json:"scopes"`
}

func (h *AuthHandler) Auth(c *gin.Context) {
	if h.AuthRequestLimiter != nil && !h.AuthRequestLimiter.Allow(c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
		return
	}

	var body authBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(body.Secret), []byte(h.Secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid secret"})
		return
	}

	scopes, err := auth.ParseScopes(body.Scopes)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(scopes) == 0 {
		scopes = auth.AllScopes
	}

	token, err := auth.CreateToken(body.ClientID, h.TokenConfig, scopes...)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Token creation failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "token": token, "scopes": scopes})
}

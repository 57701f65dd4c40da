package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// AuthHandler serves identity routes. Tokens are issued elsewhere; this
// service only verifies them.
type AuthHandler struct{}

func NewAuthHandler() *AuthHandler {
	return &AuthHandler{}
}

// GetMe returns the identity carried by the caller's token
func (h *AuthHandler) GetMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   userID,
		"name": c.GetString("username"),
	})
}

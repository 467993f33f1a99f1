package handlers

import (
	"net/http"

	"chat-gateway-api/internal/middleware"
	"chat-gateway-api/internal/models"

	"github.com/gin-gonic/gin"
)

type UserResponse struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	ProfilePicture string `json:"profilePicture"`
	Online         bool   `json:"online"`
}

// GetAllUsers returns every user except the caller, flagged with presence
// GET /api/users
func (h *Handler) GetAllUsers(c *gin.Context) {
	userID := c.GetString(middleware.ContextUserID)

	var users []models.User
	if err := h.db.Where("id <> ?", userID).Order("username asc").Find(&users).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch users"})
		return
	}

	// Map to safe response payload
	resp := make([]UserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, UserResponse{
			ID:             u.ID,
			Username:       u.Username,
			Email:          u.Email,
			ProfilePicture: u.ProfilePicture,
			Online:         h.gateway.IsOnline(u.ID),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"users": resp,
		"count": len(resp),
	})
}

package routes

import (
	"net/http"

	"chat-gateway-api/internal/auth"
	"chat-gateway-api/internal/handlers"
	"chat-gateway-api/internal/middleware"

	"github.com/gin-gonic/gin"
)

func SetupRoutes(h *handlers.Handler, tokens *auth.JWTManager) *gin.Engine {
	// Create a new GIN Router
	ginRouter := gin.New()
	ginRouter.Use(gin.Logger(), gin.Recovery())

	// CORS middleware (for frontend integration)
	ginRouter.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PATCH")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// Health check endpoint
	ginRouter.GET("/health", h.Health)

	// WebSocket endpoint; authentication happens inside the socket
	ginRouter.GET("/ws", h.WebSocket)

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/auth/register", h.Register)
		api.POST("/auth/login", h.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuthMiddleware(tokens))
	{
		protectedRoutes.GET("/users", h.GetAllUsers)
		protectedRoutes.POST("/messages/:receiverId", h.CreateMessage)
		protectedRoutes.GET("/messages/:receiverId", h.GetMessages)
		protectedRoutes.PATCH("/messages/:id/status", h.UpdateMessageStatus)
	}

	return ginRouter
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"campustv/pkg/middleware"
)

// RegisterRoutes mounts the inbound surface of the engine: provider and
// payment webhooks, ad placement submission and the realtime socket.
func RegisterRoutes(router *gin.Engine) {
	webhooks := router.Group("/webhooks")
	{
		webhooks.POST("/cloudflare", CloudflareWebhook)
		webhooks.POST("/mollie", MollieWebhook)
	}

	router.POST("/ads", CreateAdPlacements)

	router.GET("/ws", func(c middleware.Context) {
		hub.ServeWS(c.Writer, c.Request)
	})
}

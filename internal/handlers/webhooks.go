package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campustv/internal/cloudflare"
	"campustv/pkg/middleware"
)

type cloudflareWebhookPayload struct {
	LiveInput string  `json:"liveInput"`
	Duration  float64 `json:"duration"`
	Preview   string  `json:"preview"`
	Status    struct {
		State string `json:"state"`
	} `json:"status"`
}

// CloudflareWebhook receives the provider's video lifecycle events. Only a
// "ready" event finalizes the stream; everything else is acknowledged and
// dropped so the provider stops retrying.
func CloudflareWebhook(c middleware.Context) {
	var payload cloudflareWebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logger.WithError(err).Warn("Malformed Cloudflare webhook payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	if payload.Status.State != cloudflare.VideoStateReady || payload.LiveInput == "" {
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	if err := finalizer.HandleReady(c.Request.Context(), payload.LiveInput, payload.Duration, payload.Preview); err != nil {
		logger.WithError(err).WithField("live_input", payload.LiveInput).Error("Webhook finalization failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "finalization failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MollieWebhook receives payment status change pings. Mollie sends only the
// payment id; the authoritative status is re-fetched from the gateway and the
// order settled through the same routine the expiry loop uses.
func MollieWebhook(c middleware.Context) {
	paymentID := c.PostForm("id")
	if paymentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing payment id"})
		return
	}

	order, err := st.Orders.GetByOrderCode(c.Request.Context(), paymentID)
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to load order for webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if order == nil {
		logger.WithField("payment_id", paymentID).Warn("Payment webhook for unknown order")
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	status, err := gateway.GetOrderStatus(c.Request.Context(), paymentID)
	if err != nil {
		logger.WithError(err).WithField("payment_id", paymentID).Error("Failed to query payment status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status query failed"})
		return
	}

	if err := orderLoop.Settle(c.Request.Context(), *order, status); err != nil {
		logger.WithError(err).WithField("order_id", order.ID).Error("Failed to settle order from webhook")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settle failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

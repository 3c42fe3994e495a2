package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"emergency-portal-backend/internal/store"
)

type subscriptionKeys struct {
	P256DH string `json:"p256dh" binding:"required"`
	Auth   string `json:"auth" binding:"required"`
}

type postSubscriptionRequest struct {
	Endpoint string           `json:"endpoint" binding:"required"`
	Keys     subscriptionKeys `json:"keys"`
}

// PostSubscription registers a browser push subscription. Registering a
// known endpoint again is accepted and leaves the stored keys untouched.
func (h *Handler) PostSubscription(c *gin.Context) {
	var req postSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid subscription data"})
		return
	}

	sub, created, err := h.store.RegisterSubscription(c.Request.Context(), req.Endpoint, store.SubscriptionKeys{
		P256DH: req.Keys.P256DH,
		Auth:   req.Keys.Auth,
	})
	if err != nil {
		_ = c.Error(err)
		slog.Error("failed to register push subscription", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save subscription"})
		return
	}

	if !created {
		c.JSON(http.StatusOK, gin.H{"message": "Subscription already exists"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": "Subscription created", "subscription": sub})
}

type deleteSubscriptionRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// DeleteSubscription handles the deletion of a subscription.
func (h *Handler) DeleteSubscription(c *gin.Context) {
	var req deleteSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "endpoint is required"})
		return
	}

	err := h.store.UnregisterSubscription(c.Request.Context(), req.Endpoint)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "subscription not found"})
		return
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete subscription"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Subscription removed"})
}

// ListSubscriptions returns every stored subscription.
func (h *Handler) ListSubscriptions(c *gin.Context) {
	subs, err := h.store.ListSubscriptions(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list subscriptions"})
		return
	}
	c.JSON(http.StatusOK, subs)
}

// GetVAPIDPublicKey returns the application server key browsers subscribe with.
func (h *Handler) GetVAPIDPublicKey(c *gin.Context) {
	if h.webpush == nil || h.webpush.VAPIDPublicKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vapid keys are not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"public_key": h.webpush.VAPIDPublicKey})
}

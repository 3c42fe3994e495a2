package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"emergency-portal-backend/internal/notification"
)

// CheckEarthquakes runs one fan-out cycle. When a trigger token is
// configured the caller must present it as a bearer token.
func (h *Handler) CheckEarthquakes(c *gin.Context) {
	if !h.authorizedTrigger(c.GetHeader("Authorization")) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	// A started run is not abandoned when the caller disconnects.
	result, err := h.job.Run(context.WithoutCancel(c.Request.Context()))
	if err != nil {
		_ = c.Error(err)
		slog.Error("error checking earthquakes", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check earthquakes"})
		return
	}

	if result.Status != notification.StatusSent {
		c.JSON(http.StatusOK, gin.H{"message": result.Message})
		return
	}

	failed := result.FailedSubscriptions
	if failed == nil {
		failed = []notification.FailedSubscription{}
	}
	c.JSON(http.StatusOK, gin.H{
		"message":             result.Message,
		"id":                  result.ID,
		"failedSubscriptions": failed,
		"attempted":           result.Attempted,
		"delivered":           result.Delivered,
		"pruned":              result.Pruned,
	})
}

func (h *Handler) authorizedTrigger(header string) bool {
	if h.server.TriggerToken == "" {
		return true
	}
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.server.TriggerToken)) == 1
}

// GetEarthquakes proxies the upstream feed for the map views.
func (h *Handler) GetEarthquakes(c *gin.Context) {
	collection, err := h.feed.Fetch(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		slog.Warn("failed to fetch earthquake feed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to fetch earthquake data"})
		return
	}
	c.JSON(http.StatusOK, collection)
}

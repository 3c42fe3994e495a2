package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router.
func NewRouter(deps Dependencies) *gin.Engine {
	if deps.Config == nil {
		deps.Config = &config.Config{}
	}
	server := deps.Config.Server

	r := gin.New()
	r.Use(gin.Recovery(), mw.Logger(slog.Default()), mw.CORS(server.AllowedOrigins))

	handler := NewHandler(deps)

	rateLimiter := mw.RateLimiter(rate.Limit(server.RateLimitPerSec), server.RateLimitBurst)

	ttl := time.Duration(server.CacheTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	caching := mw.Cache(cache.New(ttl, 2*ttl), ttl)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Metrics, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/push-subscriptions", handler.ListSubscriptions)
		api.POST("/push-subscriptions", handler.PostSubscription)
		api.DELETE("/push-subscriptions", handler.DeleteSubscription)
		api.GET("/vapid_public_key", handler.GetVAPIDPublicKey)

		api.POST("/check-earthquakes", handler.CheckEarthquakes)
		api.GET("/earthquakes", caching, handler.GetEarthquakes)

		orgs := api.Group("/organizations/:id")
		orgs.GET("/members", handler.ListMembers)
		orgs.POST("/members", handler.JoinOrganization)
		orgs.PATCH("/members/:memberId", handler.ChangeMemberRole)
		orgs.DELETE("/members/:memberId", handler.RemoveMember)
		orgs.GET("/realtime", handler.OrganizationRealtime)
	}

	return r
}

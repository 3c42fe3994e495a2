package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/feed"
	"emergency-portal-backend/internal/membership"
	"emergency-portal-backend/internal/notification"
	"emergency-portal-backend/internal/realtime"
	"emergency-portal-backend/internal/store"
)

// FanoutRunner runs one earthquake check.
type FanoutRunner interface {
	Run(ctx context.Context) (*notification.Result, error)
}

// FeedFetcher returns the upstream earthquake feed.
type FeedFetcher interface {
	Fetch(ctx context.Context) (*feed.Collection, error)
}

// Dependencies are the collaborators served over HTTP.
type Dependencies struct {
	Config  *config.Config
	Store   store.Store
	Job     FanoutRunner
	Feed    FeedFetcher
	Members *membership.Service
	Broker  realtime.Broker
	WebPush *webpush.Options
	// Metrics is exposed on /metrics when set.
	Metrics prometheus.Gatherer
}

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store      store.Store
	job        FanoutRunner
	feed       FeedFetcher
	members    *membership.Service
	broker     realtime.Broker
	webpush    *webpush.Options
	server     config.ServerConfig
	sendBuffer int
	upgrader   websocket.Upgrader
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	sendBuffer := cfg.Realtime.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = realtime.DefaultQueueSize
	}

	origins := cfg.Server.AllowedOrigins
	return &Handler{
		store:      deps.Store,
		job:        deps.Job,
		feed:       deps.Feed,
		members:    deps.Members,
		broker:     deps.Broker,
		webpush:    deps.WebPush,
		server:     cfg.Server,
		sendBuffer: sendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return len(origins) == 0 || origin == "" || lo.Contains(origins, origin)
			},
		},
	}
}

// writeError maps domain errors to HTTP responses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
	case errors.Is(err, store.ErrAlreadyMember), errors.Is(err, store.ErrLastOwner):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, membership.ErrInvalidRole), errors.Is(err, membership.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		_ = c.Error(err)
		slog.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}

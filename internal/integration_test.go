package internal

import (
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/api"
	"emergency-portal-backend/internal/db"
	"emergency-portal-backend/internal/feed"
	"emergency-portal-backend/internal/membership"
	"emergency-portal-backend/internal/notification"
	"emergency-portal-backend/internal/realtime"
	"emergency-portal-backend/internal/store"
)

const sampleFeed = `{
  "type": "FeatureCollection",
  "metadata": {"generated": 1700000000000, "title": "USGS Magnitude 2.5+ Earthquakes, Past Day", "count": 2},
  "features": [
    {"type": "Feature", "id": "us001", "properties": {"mag": 5.0, "place": "X", "time": 1700000000000}, "geometry": {"type": "Point", "coordinates": [1, 2, 10]}},
    {"type": "Feature", "id": "us000", "properties": {"mag": 3.1, "place": "Y", "time": 1699990000000}, "geometry": {"type": "Point", "coordinates": [3, 4, 5]}}
  ]
}`

// pushService records every delivery it accepts. Endpoints under /gone/ answer 410.
type pushService struct {
	mu       sync.Mutex
	received map[string]int
}

func (p *pushService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	p.received[r.URL.Path]++
	p.mu.Unlock()

	if strings.HasPrefix(r.URL.Path, "/gone/") {
		w.WriteHeader(http.StatusGone)
		return
	}
	if r.Header.Get("Content-Encoding") != "aes128gcm" || !strings.HasPrefix(r.Header.Get("Authorization"), "vapid ") {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (p *pushService) count(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.received[path]
}

// browserKeys returns a valid p256dh/auth pair as a browser would report it.
func browserKeys(t *testing.T) (string, string) {
	t.Helper()
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(priv.PublicKey().Bytes()), base64.RawURLEncoding.EncodeToString(auth)
}

// TestEarthquakeFanoutLifecycle drives the trigger endpoint against a real
// feed server and push service and checks the persisted state between runs.
func TestEarthquakeFanoutLifecycle(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	gormDB, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := gormDB.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	defer sqlDB.Close()
	require.NoError(t, db.Migrate(gormDB))
	appStore := store.NewGormStore(gormDB)

	feedServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer feedServer.Close()

	push := &pushService{received: map[string]int{}}
	pushServer := httptest.NewServer(push)
	defer pushServer.Close()

	vapidPrivate, vapidPublic, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	cfg := &config.Config{
		Server: config.ServerConfig{RateLimitPerSec: 1000, RateLimitBurst: 1000},
		Push: config.PushConfig{
			PublicKey:   vapidPublic,
			PrivateKey:  vapidPrivate,
			Subject:     "mailto:alerts@example.org",
			TTL:         60,
			Concurrency: 2,
		},
		Feed: config.FeedConfig{URL: feedServer.URL},
	}

	hub := realtime.NewHub(8, nil)
	defer hub.Close()
	feedClient := feed.NewClient(cfg.Feed)
	router := api.NewRouter(api.Dependencies{
		Config:  cfg,
		Store:   appStore,
		Job:     notification.NewJob(cfg.Push, feedClient, appStore, appStore, nil),
		Feed:    feedClient,
		Members: membership.NewService(appStore, realtime.NewPublisher(hub, nil)),
		Broker:  hub,
		WebPush: notification.NewWebPushOptions(cfg.Push),
	})

	endpoints := []string{pushServer.URL + "/push/a", pushServer.URL + "/push/b", pushServer.URL + "/gone/c"}
	for _, endpoint := range endpoints {
		p256dh, auth := browserKeys(t)
		body, _ := json.Marshal(gin.H{"endpoint": endpoint, "keys": gin.H{"p256dh": p256dh, "auth": auth}})
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/push-subscriptions", strings.NewReader(string(body)))
		req.Header.Set("Content-Type", "application/json")
		router.ServeHTTP(w, req)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	trigger := func() map[string]any {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/check-earthquakes", nil))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		var out map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
		return out
	}

	// First run announces the newest earthquake.
	first := trigger()
	assert.Equal(t, "Notification sent", first["message"])
	assert.Equal(t, "us001", first["id"])
	assert.EqualValues(t, 3, first["attempted"])
	assert.EqualValues(t, 2, first["delivered"])
	assert.EqualValues(t, 1, first["pruned"])
	failed, ok := first["failedSubscriptions"].([]any)
	require.True(t, ok)
	assert.Len(t, failed, 1)

	marker, found, err := appStore.LastEarthquakeID(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "us001", marker)

	assert.Equal(t, 1, push.count("/push/a"))
	assert.Equal(t, 1, push.count("/push/b"))
	assert.Equal(t, 1, push.count("/gone/c"))

	subs, err := appStore.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, subs, 2, "expired subscription is pruned")

	// Second run sees the same feed and sends nothing.
	second := trigger()
	assert.Equal(t, map[string]any{"message": "No new earthquakes"}, second)
	assert.Equal(t, 1, push.count("/push/a"))
	assert.Equal(t, 1, push.count("/push/b"))
}

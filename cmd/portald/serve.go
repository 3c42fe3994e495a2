package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/api"
	"emergency-portal-backend/internal/db"
	"emergency-portal-backend/internal/feed"
	"emergency-portal-backend/internal/membership"
	"emergency-portal-backend/internal/notification"
	"emergency-portal-backend/internal/poller"
	"emergency-portal-backend/internal/realtime"
	"emergency-portal-backend/internal/store"
)

const shutdownTimeout = 5 * time.Second

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the optional earthquake poller",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveRun(cmd.Context())
		},
	}
}

// components are the long-lived collaborators shared by the commands.
type components struct {
	store    store.Store
	feed     *feed.Client
	job      *notification.Job
	registry *prometheus.Registry
}

func buildComponents(cfg *config.Config) (*components, error) {
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		return nil, errors.New("VAPID keys must be configured; run `portald vapid` to generate a pair")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	appStore := store.NewGormStore(gormDB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	feedClient := feed.NewClient(cfg.Feed)
	return &components{
		store:    appStore,
		feed:     feedClient,
		job:      notification.NewJob(cfg.Push, feedClient, appStore, appStore, registry),
		registry: registry,
	}, nil
}

func newBroker(ctx context.Context, cfg config.RealtimeConfig, reg prometheus.Registerer) (realtime.Broker, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		return realtime.NewRedisBroker(ctx, cfg.RedisURL, reg)
	default:
		return realtime.NewHub(cfg.SendBuffer, reg), nil
	}
}

func serveRun(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := buildComponents(cfg)
	if err != nil {
		return err
	}

	broker, err := newBroker(ctx, cfg.Realtime, comps.registry)
	if err != nil {
		return fmt.Errorf("failed to start %s broker: %w", cfg.Realtime.Broker, err)
	}
	defer broker.Close()
	slog.Info("realtime broker ready", "broker", cfg.Realtime.Broker)

	members := membership.NewService(comps.store, realtime.NewPublisher(broker, comps.registry))

	router := api.NewRouter(api.Dependencies{
		Config:  cfg,
		Store:   comps.store,
		Job:     comps.job,
		Feed:    comps.feed,
		Members: members,
		Broker:  broker,
		WebPush: notification.NewWebPushOptions(cfg.Push),
		Metrics: comps.registry,
	})
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Poller.Enabled {
		pollerSvc := poller.NewService(comps.job, cfg.Poller.Interval)
		g.Go(func() error {
			pollerSvc.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, stopping services")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server gracefully stopped")
	return nil
}

package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"emergency-portal-backend/config"
	"emergency-portal-backend/internal/feed"
	"emergency-portal-backend/internal/model"
	"emergency-portal-backend/internal/store"
)

const (
	MessageNoData = "No earthquake data"
	MessageNoNew  = "No new earthquakes"
	MessageSent   = "Notification sent"

	AlertTitle = "🌍 Earthquake Alert"
	AlertTag   = "earthquake-alert"
)

// Status classifies how a run ended.
type Status string

const (
	StatusNoData Status = "no_data"
	StatusNoNew  Status = "no_new"
	StatusSent   Status = "sent"
)

// FeedSource yields the newest earthquake, or nil for an empty feed.
type FeedSource interface {
	Latest(ctx context.Context) (*feed.Feature, error)
}

// SubscriptionRegistry is the part of the subscription store the job needs.
type SubscriptionRegistry interface {
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
	UnregisterSubscription(ctx context.Context, endpoint string) error
}

// Payload is the JSON document delivered to every subscription.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
	URL   string `json:"url"`
}

// FailedSubscription describes one delivery that did not succeed.
type FailedSubscription struct {
	Endpoint   string `json:"endpoint"`
	Error      string `json:"error"`
	StatusCode int    `json:"statusCode,omitempty"`
}

// Result summarises a run.
type Result struct {
	Status              Status               `json:"status"`
	Message             string               `json:"message"`
	ID                  string               `json:"id,omitempty"`
	FailedSubscriptions []FailedSubscription `json:"failedSubscriptions,omitempty"`
	Attempted           int                  `json:"attempted"`
	Delivered           int                  `json:"delivered"`
	Pruned              int                  `json:"pruned"`
}

// Job checks the feed for a new earthquake and fans it out to every push subscription.
type Job struct {
	feed         FeedSource
	marker       store.MarkerStore
	subs         SubscriptionRegistry
	sender       NotificationSender
	webpush      *webpush.Options
	concurrency  int
	pruneExpired bool
	metrics      *fanoutMetrics
}

// NewJob wires a fan-out job. promRegistry may be nil.
func NewJob(cfg config.PushConfig, source FeedSource, marker store.MarkerStore, subs SubscriptionRegistry, promRegistry prometheus.Registerer) *Job {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Job{
		feed:         source,
		marker:       marker,
		subs:         subs,
		sender:       &WebPushSender{},
		webpush:      NewWebPushOptions(cfg),
		concurrency:  concurrency,
		pruneExpired: cfg.ShouldPruneExpired(),
		metrics:      newFanoutMetrics(promRegistry),
	}
}

// FormatMagnitude renders mag the shortest way that round-trips, or "unknown".
func FormatMagnitude(mag *float64) string {
	if mag == nil {
		return "unknown"
	}
	return strconv.FormatFloat(*mag, 'f', -1, 64)
}

// BuildPayload renders the alert for a feature.
func BuildPayload(f *feed.Feature) Payload {
	return Payload{
		Title: AlertTitle,
		Body:  fmt.Sprintf("Magnitude %s earthquake detected near %s", FormatMagnitude(f.Properties.Mag), f.Properties.Place),
		Tag:   AlertTag,
		URL:   "/",
	}
}

// Run performs one fetch, dedupe and deliver cycle. The marker is advanced
// before any delivery, so a run that fails afterwards never re-announces the
// same event.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result, err := j.run(ctx)
	outcome := "error"
	if err == nil {
		outcome = string(result.Status)
	}
	j.metrics.observeRun(outcome, time.Since(start).Seconds())
	return result, err
}

func (j *Job) run(ctx context.Context) (*Result, error) {
	latest, err := j.feed.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch earthquake feed: %w", err)
	}
	if latest == nil {
		slog.Info("earthquake feed is empty")
		return &Result{Status: StatusNoData, Message: MessageNoData}, nil
	}
	if latest.ID == "" {
		return nil, errors.New("newest earthquake has no id")
	}

	lastID, ok, err := j.marker.LastEarthquakeID(ctx)
	if err != nil {
		return nil, err
	}
	if ok && lastID == latest.ID {
		slog.Debug("no new earthquakes", "id", latest.ID)
		return &Result{Status: StatusNoNew, Message: MessageNoNew}, nil
	}

	if err := j.marker.SetLastEarthquakeID(ctx, latest.ID); err != nil {
		return nil, err
	}

	body, err := json.Marshal(BuildPayload(latest))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	subs, err := j.subs.ListSubscriptions(ctx)
	if err != nil {
		return nil, err
	}

	slog.Info("announcing earthquake", "id", latest.ID, "place", latest.Properties.Place, "subscriptions", len(subs))
	outcomes := j.deliverAll(ctx, subs, body)

	failed := lo.Filter(outcomes, func(o Outcome, _ int) bool { return !o.Delivered() })
	result := &Result{
		Status:    StatusSent,
		Message:   MessageSent,
		ID:        latest.ID,
		Attempted: len(outcomes),
		Delivered: len(outcomes) - len(failed),
		FailedSubscriptions: lo.Map(failed, func(o Outcome, _ int) FailedSubscription {
			return FailedSubscription{Endpoint: o.Endpoint, Error: o.Err.Error(), StatusCode: o.StatusCode}
		}),
	}

	if j.pruneExpired {
		result.Pruned = j.prune(ctx, failed)
	}

	slog.Info("earthquake fan-out finished",
		"id", latest.ID,
		"attempted", result.Attempted,
		"delivered", result.Delivered,
		"failed", len(result.FailedSubscriptions),
		"pruned", result.Pruned)
	return result, nil
}

// deliverAll sends body to every subscription, at most j.concurrency at a
// time. One delivery never affects another; every outcome is returned.
// Each delivery gets its own copy of body since the encrypter appends to it.
func (j *Job) deliverAll(ctx context.Context, subs []model.PushSubscription, body []byte) []Outcome {
	outcomes := make([]Outcome, len(subs))

	var g errgroup.Group
	g.SetLimit(j.concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			out := deliver(ctx, j.sender, sub, bytes.Clone(body), j.webpush)
			if out.Err != nil {
				slog.Warn("push delivery failed", "endpoint", sub.Endpoint, "status", out.StatusCode, "error", out.Err)
			}
			j.metrics.observeDelivery(out)
			outcomes[i] = out
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// prune removes subscriptions the push service reported as gone.
func (j *Job) prune(ctx context.Context, failed []Outcome) int {
	pruned := 0
	for _, o := range lo.Filter(failed, func(o Outcome, _ int) bool { return o.Expired() }) {
		err := j.subs.UnregisterSubscription(ctx, o.Endpoint)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			slog.Error("failed to prune expired subscription", "endpoint", o.Endpoint, "error", err)
			continue
		}
		slog.Info("pruned expired subscription", "endpoint", o.Endpoint, "status", o.StatusCode)
		pruned++
	}
	j.metrics.addPruned(pruned)
	return pruned
}

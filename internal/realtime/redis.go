package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// RedisBroker carries events over Redis PUBLISH/SUBSCRIBE so that every
// instance of the service sees every membership change.
type RedisBroker struct {
	client  *redis.Client
	metrics *brokerMetrics
}

// NewRedisBroker connects to url and verifies the connection. promRegistry may be nil.
func NewRedisBroker(ctx context.Context, url string, promRegistry prometheus.Registerer) (*RedisBroker, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisBrokerWithClient(client, promRegistry), nil
}

// NewRedisBrokerWithClient wraps an existing client. The broker owns it from now on.
func NewRedisBrokerWithClient(client *redis.Client, promRegistry prometheus.Registerer) *RedisBroker {
	return &RedisBroker{
		client:  client,
		metrics: newBrokerMetrics(promRegistry, "redis"),
	}
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, evt Event) error {
	if err := checkChannel(channel, evt); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	b.metrics.incPublished()
	return nil
}

func (b *RedisBroker) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	pubsub := b.client.Subscribe(ctx, channel)
	// Wait for the subscription confirmation so nothing published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	b.metrics.addSubscriptions(1)

	done := make(chan struct{})
	exited := make(chan struct{})
	messages := pubsub.Channel()

	var once sync.Once
	teardown := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
			b.metrics.addSubscriptions(-1)
		})
	}

	go func() {
		defer close(exited)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				teardown()
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					b.metrics.incDropped()
					slog.Warn("dropping undecodable realtime message", "channel", msg.Channel, "error", err)
					continue
				}
				if ChannelName(evt.OrganizationID) != msg.Channel {
					b.metrics.incDropped()
					continue
				}
				select {
				case <-done:
					return
				default:
				}
				handler(evt)
			}
		}
	}()

	return func() {
		teardown()
		<-exited
	}, nil
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}

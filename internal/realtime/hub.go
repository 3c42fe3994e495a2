package realtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultQueueSize is the per-subscriber buffer used when none is configured.
const DefaultQueueSize = 32

// Hub is an in-process Broker. Each subscriber owns a buffered queue drained
// by its own goroutine; a full queue drops the event for that subscriber only.
type Hub struct {
	mu        sync.RWMutex
	channels  map[string]map[uint64]*hubSubscriber
	nextID    uint64
	queueSize int
	closed    bool
	metrics   *brokerMetrics
}

type hubSubscriber struct {
	id      uint64
	channel string
	handler Handler
	queue   chan Event
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

// NewHub creates an in-memory broker. promRegistry may be nil.
func NewHub(queueSize int, promRegistry prometheus.Registerer) *Hub {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		channels:  make(map[string]map[uint64]*hubSubscriber),
		queueSize: queueSize,
		metrics:   newBrokerMetrics(promRegistry, "memory"),
	}
}

func (h *Hub) Publish(_ context.Context, channel string, evt Event) error {
	if err := checkChannel(channel, evt); err != nil {
		return err
	}

	h.mu.RLock()
	if h.closed {
		h.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]*hubSubscriber, 0, len(h.channels[channel]))
	for _, sub := range h.channels[channel] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	h.metrics.incPublished()
	for _, sub := range subs {
		if !sub.trySend(evt) {
			h.metrics.incDropped()
			slog.Warn("realtime subscriber queue full; dropping event", "channel", channel, "type", evt.Type)
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrClosed
	}
	h.nextID++
	sub := &hubSubscriber{
		id:      h.nextID,
		channel: channel,
		handler: handler,
		queue:   make(chan Event, h.queueSize),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	peers, ok := h.channels[channel]
	if !ok {
		peers = make(map[uint64]*hubSubscriber)
		h.channels[channel] = peers
	}
	peers[sub.id] = sub
	h.mu.Unlock()

	h.metrics.addSubscriptions(1)
	go sub.run()

	unsubscribe := func() {
		h.remove(sub)
		sub.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()
	return unsubscribe, nil
}

// Close stops every subscriber. Later Publish and Subscribe calls fail with ErrClosed.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	var subs []*hubSubscriber
	for _, peers := range h.channels {
		for _, sub := range peers {
			subs = append(subs, sub)
		}
	}
	h.channels = make(map[string]map[uint64]*hubSubscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		h.metrics.addSubscriptions(-1)
		sub.stop()
	}
	return nil
}

func (h *Hub) remove(sub *hubSubscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	peers, ok := h.channels[sub.channel]
	if !ok {
		return
	}
	if _, exists := peers[sub.id]; !exists {
		return
	}
	delete(peers, sub.id)
	if len(peers) == 0 {
		delete(h.channels, sub.channel)
	}
	h.metrics.addSubscriptions(-1)
}

func (s *hubSubscriber) trySend(evt Event) bool {
	select {
	case <-s.done:
		return true
	default:
	}
	select {
	case s.queue <- evt:
		return true
	default:
		return false
	}
}

func (s *hubSubscriber) run() {
	defer close(s.exited)
	for {
		select {
		case <-s.done:
			return
		case evt := <-s.queue:
			select {
			case <-s.done:
				return
			default:
			}
			s.handler(evt)
		}
	}
}

// stop ends delivery and waits for an in-flight handler call to return.
func (s *hubSubscriber) stop() {
	s.once.Do(func() {
		close(s.done)
	})
	<-s.exited
}

package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func collect(t *testing.T) (Handler, <-chan Event) {
	t.Helper()
	ch := make(chan Event, 16)
	return func(evt Event) { ch <- evt }, ch
}

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertSilent(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case evt := <-ch:
		t.Fatalf("unexpected event %s for %s", evt.Type, evt.OrganizationID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ChannelIsolation(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()

	handlerA, chA := collect(t)
	handlerB, chB := collect(t)
	unsubA, err := hub.Subscribe(ctx, ChannelName("A"), handlerA)
	require.NoError(t, err)
	defer unsubA()
	unsubB, err := hub.Subscribe(ctx, ChannelName("B"), handlerB)
	require.NoError(t, err)
	defer unsubB()

	require.NoError(t, hub.Publish(ctx, ChannelName("A"), NewEvent("A", MemberLeft{MemberID: "m1"})))

	evt := receive(t, chA)
	assert.Equal(t, EventMemberLeft, evt.Type)
	assert.Equal(t, MemberLeft{MemberID: "m1"}, evt.Data)
	assertSilent(t, chB)
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()

	var calls atomic.Int32
	unsubscribe, err := hub.Subscribe(ctx, ChannelName("A"), func(Event) { calls.Add(1) })
	require.NoError(t, err)

	unsubscribe()
	unsubscribe()

	for range 5 {
		require.NoError(t, hub.Publish(ctx, ChannelName("A"), NewEvent("A", MemberLeft{MemberID: "m1"})))
	}
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestHub_UnsubscribeWaitsForRunningHandler(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	unsubscribe, err := hub.Subscribe(ctx, ChannelName("A"), func(Event) {
		close(started)
		<-release
		finished.Store(true)
	})
	require.NoError(t, err)

	require.NoError(t, hub.Publish(ctx, ChannelName("A"), NewEvent("A", MemberLeft{MemberID: "m1"})))
	<-started

	done := make(chan struct{})
	go func() {
		unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("unsubscribe returned while the handler was still running")
	case <-time.After(30 * time.Millisecond):
	}
	close(release)
	<-done
	assert.True(t, finished.Load())
}

func TestHub_RejectsMismatchedChannel(t *testing.T) {
	hub := NewHub(8, nil)
	defer hub.Close()

	err := hub.Publish(context.Background(), ChannelName("B"), NewEvent("A", MemberLeft{MemberID: "m1"}))
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestHub_FullQueueDropsEvents(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	hub := NewHub(1, reg)
	defer hub.Close()

	block := make(chan struct{})
	var once sync.Once
	entered := make(chan struct{})
	unsubscribe, err := hub.Subscribe(ctx, ChannelName("A"), func(Event) {
		once.Do(func() { close(entered) })
		<-block
	})
	require.NoError(t, err)

	evt := NewEvent("A", MemberLeft{MemberID: "m1"})
	require.NoError(t, hub.Publish(ctx, ChannelName("A"), evt))
	<-entered
	require.NoError(t, hub.Publish(ctx, ChannelName("A"), evt)) // fills the queue
	require.NoError(t, hub.Publish(ctx, ChannelName("A"), evt)) // dropped

	assert.Equal(t, 3.0, testutil.ToFloat64(hub.metrics.published))
	assert.Equal(t, 1.0, testutil.ToFloat64(hub.metrics.dropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(hub.metrics.subscriptions))

	close(block)
	unsubscribe()
	assert.Equal(t, 0.0, testutil.ToFloat64(hub.metrics.subscriptions))
}

func TestHub_ContextCancelUnsubscribes(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub(8, nil)
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	handler, ch := collect(t)
	_, err := hub.Subscribe(ctx, ChannelName("A"), handler)
	require.NoError(t, err)

	cancel()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.channels) == 0
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), ChannelName("A"), NewEvent("A", MemberLeft{MemberID: "m1"})))
	assertSilent(t, ch)
}

func TestHub_Close(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)

	_, err := hub.Subscribe(ctx, ChannelName("A"), func(Event) {})
	require.NoError(t, err)
	require.NoError(t, hub.Close())
	require.NoError(t, hub.Close())

	_, err = hub.Subscribe(ctx, ChannelName("A"), func(Event) {})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, hub.Publish(ctx, ChannelName("A"), NewEvent("A", MemberLeft{MemberID: "m1"})), ErrClosed)
}

func TestChannelName(t *testing.T) {
	assert.Equal(t, "organization:org-1", ChannelName("org-1"))

	org, ok := OrganizationFromChannel("organization:org-1")
	assert.True(t, ok)
	assert.Equal(t, "org-1", org)

	_, ok = OrganizationFromChannel("members:org-1")
	assert.False(t, ok)
}

package realtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"emergency-portal-backend/internal/model"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func member(id, org, email string, role model.Role, age time.Duration) model.OrganizationMember {
	return model.OrganizationMember{
		ID:             id,
		OrganizationID: org,
		Role:           role,
		CreatedAt:      base.Add(-age),
		User:           model.User{ID: "u-" + id, Email: email},
	}
}

type recorder struct {
	mu      sync.Mutex
	states  []State
	notices chan Notice
}

func newRecorder() *recorder {
	return &recorder{notices: make(chan Notice, 16)}
}

func (r *recorder) callbacks() MirrorCallbacks {
	return MirrorCallbacks{
		OnNotice: func(n Notice) { r.notices <- n },
		OnState: func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		},
	}
}

func (r *recorder) nextNotice(t *testing.T) Notice {
	t.Helper()
	select {
	case n := <-r.notices:
		return n
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notice")
		return Notice{}
	}
}

func (r *recorder) noNotice(t *testing.T) {
	t.Helper()
	select {
	case n := <-r.notices:
		t.Fatalf("unexpected notice %q", n.Message)
	case <-time.After(50 * time.Millisecond):
	}
}

func staticLoader(members map[string][]model.OrganizationMember) MemberLoader {
	return func(_ context.Context, org string) ([]model.OrganizationMember, error) {
		return members[org], nil
	}
}

func TestMemberMirror_Lifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()
	pub := NewPublisher(hub, nil)

	owner := member("m1", "org-1", "owner@example.com", model.RoleOwner, time.Hour)
	rec := newRecorder()
	mirror := NewMemberMirror(hub, staticLoader(map[string][]model.OrganizationMember{"org-1": {owner}}), rec.callbacks())
	assert.Equal(t, StateDisconnected, mirror.State())

	require.NoError(t, mirror.Open(ctx, "org-1"))
	assert.Equal(t, StateSubscribed, mirror.State())
	assert.Equal(t, "org-1", mirror.OrganizationID())
	require.Len(t, mirror.Members(), 1)

	first, last := "Bob", "Builder"
	bob := member("m2", "org-1", "bob@example.com", model.RoleMember, 0)
	bob.User.FirstName, bob.User.LastName = &first, &last

	pub.MemberJoined(ctx, bob)
	n := rec.nextNotice(t)
	assert.Equal(t, EventMemberJoined, n.Kind)
	assert.Equal(t, "Bob Builder joined the organization", n.Message)

	members := mirror.Members()
	require.Len(t, members, 2)
	assert.Equal(t, "m2", members[0].ID, "newest first")

	// Duplicate join is a no-op.
	pub.MemberJoined(ctx, bob)
	rec.noNotice(t)
	assert.Len(t, mirror.Members(), 2)

	pub.RoleChanged(ctx, "org-1", "m2", model.RoleAdmin)
	n = rec.nextNotice(t)
	assert.Equal(t, "Bob Builder's role changed to admin", n.Message)
	assert.Equal(t, model.RoleAdmin, mirror.Members()[0].Role)

	// Unchanged role and unknown member are no-ops.
	pub.RoleChanged(ctx, "org-1", "m2", model.RoleAdmin)
	pub.RoleChanged(ctx, "org-1", "missing", model.RoleAdmin)
	rec.noNotice(t)

	pub.MemberLeft(ctx, "org-1", "m1")
	n = rec.nextNotice(t)
	assert.Equal(t, EventMemberLeft, n.Kind)
	assert.Equal(t, "owner@example.com left the organization", n.Message)
	require.Len(t, mirror.Members(), 1)

	pub.MemberLeft(ctx, "org-1", "m1")
	rec.noNotice(t)

	mirror.Close()
	assert.Equal(t, StateDisconnected, mirror.State())
	assert.Empty(t, mirror.Members())

	pub.MemberLeft(ctx, "org-1", "m2")
	rec.noNotice(t)

	rec.mu.Lock()
	assert.Equal(t, []State{StateConnecting, StateSubscribed, StateDisconnected}, rec.states)
	rec.mu.Unlock()
}

func TestMemberMirror_SwitchOrganization(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()
	pub := NewPublisher(hub, nil)

	rec := newRecorder()
	mirror := NewMemberMirror(hub, staticLoader(map[string][]model.OrganizationMember{
		"org-a": {member("a1", "org-a", "a@example.com", model.RoleOwner, time.Hour)},
		"org-b": {member("b1", "org-b", "b@example.com", model.RoleOwner, time.Hour)},
	}), rec.callbacks())
	defer mirror.Close()

	require.NoError(t, mirror.Open(ctx, "org-a"))
	require.NoError(t, mirror.Open(ctx, "org-b"))
	assert.Equal(t, "org-b", mirror.OrganizationID())
	require.Len(t, mirror.Members(), 1)
	assert.Equal(t, "b1", mirror.Members()[0].ID)

	// Events of the previous organization no longer reach the mirror.
	pub.MemberJoined(ctx, member("a2", "org-a", "late@example.com", model.RoleMember, 0))
	rec.noNotice(t)
	assert.Len(t, mirror.Members(), 1)

	pub.MemberJoined(ctx, member("b2", "org-b", "new@example.com", model.RoleMember, 0))
	assert.Equal(t, "new@example.com joined the organization", rec.nextNotice(t).Message)
}

func TestMemberMirror_DropsEventsForOtherOrganizations(t *testing.T) {
	rec := newRecorder()
	mirror := NewMemberMirror(NewHub(1, nil), staticLoader(nil), rec.callbacks())

	mirror.mu.Lock()
	mirror.orgID = "org-b"
	mirror.loaded = true
	gen := mirror.generation
	mirror.mu.Unlock()

	mirror.handle(gen, NewEvent("org-a", MemberJoined{Member: member("a1", "org-a", "a@example.com", model.RoleMember, 0)}))
	mirror.handle(gen+1, NewEvent("org-b", MemberJoined{Member: member("b1", "org-b", "b@example.com", model.RoleMember, 0)}))
	rec.noNotice(t)
	assert.Empty(t, mirror.Members())
}

func TestMemberMirror_EventsDuringLoadAreApplied(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx := context.Background()
	hub := NewHub(8, nil)
	defer hub.Close()
	pub := NewPublisher(hub, nil)

	existing := member("m1", "org-1", "owner@example.com", model.RoleOwner, time.Hour)
	joined := member("m2", "org-1", "new@example.com", model.RoleMember, 0)

	rec := newRecorder()
	loader := func(ctx context.Context, org string) ([]model.OrganizationMember, error) {
		// A join that races the snapshot: published after subscribe, before the load returns.
		pub.MemberJoined(ctx, joined)
		time.Sleep(20 * time.Millisecond)
		return []model.OrganizationMember{existing}, nil
	}
	mirror := NewMemberMirror(hub, loader, rec.callbacks())
	defer mirror.Close()

	require.NoError(t, mirror.Open(ctx, "org-1"))
	assert.Equal(t, "new@example.com joined the organization", rec.nextNotice(t).Message)
	assert.Len(t, mirror.Members(), 2)
}

func TestMemberMirror_LoadFailure(t *testing.T) {
	defer goleak.VerifyNone(t)
	hub := NewHub(8, nil)
	defer hub.Close()

	mirror := NewMemberMirror(hub, func(context.Context, string) ([]model.OrganizationMember, error) {
		return nil, errors.New("db down")
	}, MirrorCallbacks{})

	err := mirror.Open(context.Background(), "org-1")
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, StateDisconnected, mirror.State())

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	assert.Empty(t, hub.channels, "subscription released")
}

func TestMemberMirror_SubscribeFailure(t *testing.T) {
	hub := NewHub(8, nil)
	require.NoError(t, hub.Close())

	mirror := NewMemberMirror(hub, staticLoader(nil), MirrorCallbacks{})
	err := mirror.Open(context.Background(), "org-1")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateDisconnected, mirror.State())
}

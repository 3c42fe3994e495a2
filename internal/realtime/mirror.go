package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"emergency-portal-backend/internal/model"
)

// State is the connection state of a MemberMirror.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateSubscribed   State = "subscribed"
)

// Notice is a transient, user-facing description of a membership change.
type Notice struct {
	Kind    EventType                `json:"kind"`
	Title   string                   `json:"title"`
	Message string                   `json:"message"`
	Member  model.OrganizationMember `json:"member"`
	At      time.Time                `json:"at"`
}

// MemberLoader returns the current members of an organization.
type MemberLoader func(ctx context.Context, organizationID string) ([]model.OrganizationMember, error)

// MirrorCallbacks are invoked outside the mirror's lock. Any of them may be nil.
type MirrorCallbacks struct {
	OnMembers func([]model.OrganizationMember)
	OnNotice  func(Notice)
	OnState   func(State)
}

// MemberMirror keeps an in-memory copy of one organization's members up to
// date from broadcast events. It is rebuilt from the loader on every Open.
type MemberMirror struct {
	broker    Broker
	loader    MemberLoader
	callbacks MirrorCallbacks

	mu          sync.Mutex
	state       State
	orgID       string
	generation  uint64
	loaded      bool
	pending     []Event
	members     []model.OrganizationMember
	unsubscribe func()
}

func NewMemberMirror(broker Broker, loader MemberLoader, callbacks MirrorCallbacks) *MemberMirror {
	return &MemberMirror{
		broker:    broker,
		loader:    loader,
		callbacks: callbacks,
		state:     StateDisconnected,
	}
}

// Open subscribes to organizationID and loads its members. Any previous
// subscription is closed first, so events of the old organization can no
// longer reach the mirror. Events arriving before the snapshot is loaded are
// applied on top of it.
func (m *MemberMirror) Open(ctx context.Context, organizationID string) error {
	m.Close()

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.orgID = organizationID
	m.state = StateConnecting
	m.mu.Unlock()
	m.emitState(StateConnecting)

	unsubscribe, err := m.broker.Subscribe(ctx, ChannelName(organizationID), func(evt Event) {
		m.handle(gen, evt)
	})
	if err != nil {
		m.reset(gen)
		return fmt.Errorf("subscribe to %s: %w", organizationID, err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		unsubscribe()
		return fmt.Errorf("mirror for %s closed while connecting", organizationID)
	}
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	members, err := m.loader(ctx, organizationID)
	if err != nil {
		m.Close()
		return fmt.Errorf("load members of %s: %w", organizationID, err)
	}

	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return fmt.Errorf("mirror for %s closed while loading", organizationID)
	}
	m.members = newestFirst(members)
	m.loaded = true
	m.state = StateSubscribed
	var notices []Notice
	for _, evt := range m.pending {
		if n, ok := m.apply(evt); ok {
			notices = append(notices, n)
		}
	}
	m.pending = nil
	snapshot := slices.Clone(m.members)
	m.mu.Unlock()

	m.emitState(StateSubscribed)
	m.emitMembers(snapshot)
	for _, n := range notices {
		m.emitNotice(n)
	}
	return nil
}

// Close unsubscribes and clears the mirror. It is safe to call repeatedly.
func (m *MemberMirror) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	prev := m.state
	m.clearLocked()
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if prev != StateDisconnected {
		m.emitState(StateDisconnected)
	}
}

// Members returns the mirrored members, newest first.
func (m *MemberMirror) Members() []model.OrganizationMember {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.members)
}

func (m *MemberMirror) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OrganizationID is the organization currently open, or "".
func (m *MemberMirror) OrganizationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orgID
}

func (m *MemberMirror) reset(gen uint64) {
	m.mu.Lock()
	if m.generation != gen {
		m.mu.Unlock()
		return
	}
	m.clearLocked()
	m.mu.Unlock()
	m.emitState(StateDisconnected)
}

func (m *MemberMirror) clearLocked() {
	m.generation++
	m.unsubscribe = nil
	m.orgID = ""
	m.loaded = false
	m.pending = nil
	m.members = nil
	m.state = StateDisconnected
}

func (m *MemberMirror) handle(gen uint64, evt Event) {
	m.mu.Lock()
	if gen != m.generation || evt.OrganizationID != m.orgID {
		m.mu.Unlock()
		slog.Debug("dropping event for a stale organization", "organization_id", evt.OrganizationID, "type", evt.Type)
		return
	}
	if !m.loaded {
		m.pending = append(m.pending, evt)
		m.mu.Unlock()
		return
	}
	notice, changed := m.apply(evt)
	var snapshot []model.OrganizationMember
	if changed {
		snapshot = slices.Clone(m.members)
	}
	m.mu.Unlock()

	if changed {
		m.emitMembers(snapshot)
		m.emitNotice(notice)
	}
}

// apply merges evt into the mirror. Events that change nothing return false.
func (m *MemberMirror) apply(evt Event) (Notice, bool) {
	switch data := evt.Data.(type) {
	case MemberJoined:
		if lo.ContainsBy(m.members, func(x model.OrganizationMember) bool { return x.ID == data.Member.ID }) {
			return Notice{}, false
		}
		m.members = newestFirst(append(m.members, data.Member))
		return joinedNotice(data.Member, evt.Timestamp), true

	case MemberLeft:
		_, idx, found := lo.FindIndexOf(m.members, func(x model.OrganizationMember) bool { return x.ID == data.MemberID })
		if !found {
			return Notice{}, false
		}
		removed := m.members[idx]
		m.members = slices.Delete(m.members, idx, idx+1)
		return leftNotice(removed, evt.Timestamp), true

	case RoleChanged:
		_, idx, found := lo.FindIndexOf(m.members, func(x model.OrganizationMember) bool { return x.ID == data.MemberID })
		if !found || m.members[idx].Role == data.NewRole {
			return Notice{}, false
		}
		m.members[idx].Role = data.NewRole
		return roleNotice(m.members[idx], evt.Timestamp), true
	}
	return Notice{}, false
}

func (m *MemberMirror) emitState(s State) {
	if m.callbacks.OnState != nil {
		m.callbacks.OnState(s)
	}
}

func (m *MemberMirror) emitMembers(members []model.OrganizationMember) {
	if m.callbacks.OnMembers != nil {
		m.callbacks.OnMembers(members)
	}
}

func (m *MemberMirror) emitNotice(n Notice) {
	if m.callbacks.OnNotice != nil {
		m.callbacks.OnNotice(n)
	}
}

func newestFirst(members []model.OrganizationMember) []model.OrganizationMember {
	out := slices.Clone(members)
	slices.SortStableFunc(out, func(a, b model.OrganizationMember) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

func joinedNotice(member model.OrganizationMember, at time.Time) Notice {
	return Notice{
		Kind:    EventMemberJoined,
		Title:   "New member joined",
		Message: member.User.DisplayName() + " joined the organization",
		Member:  member,
		At:      at,
	}
}

func leftNotice(member model.OrganizationMember, at time.Time) Notice {
	return Notice{
		Kind:    EventMemberLeft,
		Title:   "Member left",
		Message: member.User.DisplayName() + " left the organization",
		Member:  member,
		At:      at,
	}
}

func roleNotice(member model.OrganizationMember, at time.Time) Notice {
	return Notice{
		Kind:    EventRoleChanged,
		Title:   "Role changed",
		Message: fmt.Sprintf("%s's role changed to %s", member.User.DisplayName(), strings.ToLower(string(member.Role))),
		Member:  member,
		At:      at,
	}
}

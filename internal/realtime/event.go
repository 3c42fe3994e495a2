package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"emergency-portal-backend/internal/model"
)

// EventType identifies the payload variant carried by an Event.
type EventType string

const (
	EventMemberJoined EventType = "MEMBER_JOINED"
	EventMemberLeft   EventType = "MEMBER_LEFT"
	EventRoleChanged  EventType = "ROLE_CHANGED"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEmptyPayload     = errors.New("event has no payload")
)

// Payload is implemented by the event variants below and nothing else.
type Payload interface {
	eventType() EventType
}

// MemberJoined announces a new membership.
type MemberJoined struct {
	Member model.OrganizationMember `json:"member"`
}

// MemberLeft announces a removed membership.
type MemberLeft struct {
	MemberID string `json:"memberId"`
}

// RoleChanged announces a role update.
type RoleChanged struct {
	MemberID string     `json:"memberId"`
	NewRole  model.Role `json:"newRole"`
}

func (MemberJoined) eventType() EventType { return EventMemberJoined }
func (MemberLeft) eventType() EventType   { return EventMemberLeft }
func (RoleChanged) eventType() EventType  { return EventRoleChanged }

// Event is a membership change broadcast on an organization channel.
type Event struct {
	Type           EventType
	OrganizationID string
	Data           Payload
	Timestamp      time.Time
}

// NewEvent stamps data for organizationID with the current time.
func NewEvent(organizationID string, data Payload) Event {
	return Event{
		Type:           data.eventType(),
		OrganizationID: organizationID,
		Data:           data,
		Timestamp:      time.Now().UTC(),
	}
}

// Validate checks that the type tag and payload agree.
func (e Event) Validate() error {
	if e.Data == nil {
		return ErrEmptyPayload
	}
	if e.Data.eventType() != e.Type {
		return fmt.Errorf("event type %s does not match payload %s", e.Type, e.Data.eventType())
	}
	if e.OrganizationID == "" {
		return errors.New("event has no organization id")
	}
	return nil
}

type wireEvent struct {
	Type           EventType       `json:"type"`
	OrganizationID string          `json:"organizationId"`
	Data           json.RawMessage `json:"data"`
	Timestamp      time.Time       `json:"timestamp"`
}

func (e Event) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return nil, ErrEmptyPayload
	}
	data, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEvent{
		Type:           e.Data.eventType(),
		OrganizationID: e.OrganizationID,
		Data:           data,
		Timestamp:      e.Timestamp,
	})
}

func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var data Payload
	switch w.Type {
	case EventMemberJoined:
		var p MemberJoined
		if err := json.Unmarshal(w.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", w.Type, err)
		}
		data = p
	case EventMemberLeft:
		var p MemberLeft
		if err := json.Unmarshal(w.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", w.Type, err)
		}
		data = p
	case EventRoleChanged:
		var p RoleChanged
		if err := json.Unmarshal(w.Data, &p); err != nil {
			return fmt.Errorf("decode %s: %w", w.Type, err)
		}
		data = p
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, w.Type)
	}

	*e = Event{
		Type:           w.Type,
		OrganizationID: w.OrganizationID,
		Data:           data,
		Timestamp:      w.Timestamp,
	}
	return nil
}

package store

import (
	"context"

	"gorm.io/gorm"

	"emergency-portal-backend/internal/model"
)

// SubscriptionStore is the durable registry of push endpoints.
type SubscriptionStore interface {
	// RegisterSubscription inserts the subscription unless the endpoint is
	// already known. Existing keys are never overwritten; created reports
	// whether a new row was written.
	RegisterSubscription(ctx context.Context, endpoint string, keys SubscriptionKeys) (sub model.PushSubscription, created bool, err error)
	UnregisterSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// MarkerStore persists the id of the last announced earthquake.
type MarkerStore interface {
	// LastEarthquakeID returns ok=false while the marker has never been set.
	LastEarthquakeID(ctx context.Context) (id string, ok bool, err error)
	SetLastEarthquakeID(ctx context.Context, id string) error
}

// MemberStore holds organization memberships.
type MemberStore interface {
	ListMembers(ctx context.Context, organizationID string) ([]model.OrganizationMember, error)
	AddMember(ctx context.Context, organizationID string, user NewUser) (model.OrganizationMember, error)
	RemoveMember(ctx context.Context, organizationID, memberID string) (model.OrganizationMember, error)
	UpdateMemberRole(ctx context.Context, organizationID, memberID string, role model.Role) (member model.OrganizationMember, changed bool, err error)
}

// Store defines the interface for all database operations.
type Store interface {
	SubscriptionStore
	MarkerStore
	MemberStore
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

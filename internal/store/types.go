package store

import "errors"

var (
	// ErrNotFound is returned when the addressed record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyMember is returned when a user joins an organization twice.
	ErrAlreadyMember = errors.New("user is already a member of this organization")
	// ErrLastOwner is returned when a change would leave an organization without an owner.
	ErrLastOwner = errors.New("organization must keep at least one owner")
)

// SubscriptionKeys are the browser-provided encryption keys of a push subscription.
type SubscriptionKeys struct {
	P256DH string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// NewUser carries the identity of a user joining an organization.
type NewUser struct {
	Email     string
	FirstName *string
	LastName  *string
}

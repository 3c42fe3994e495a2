package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Role is the permission level of a member inside an organization.
type Role string

const (
	RoleOwner  Role = "OWNER"
	RoleAdmin  Role = "ADMIN"
	RoleMember Role = "MEMBER"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// User is the person behind one or more memberships.
type User struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	Email     string    `gorm:"size:320;uniqueIndex;not null" json:"email"`
	FirstName *string   `gorm:"size:128" json:"firstName,omitempty"`
	LastName  *string   `gorm:"size:128" json:"lastName,omitempty"`
	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// DisplayName is "First Last" when both names are known, otherwise the email.
func (u User) DisplayName() string {
	if u.FirstName != nil && *u.FirstName != "" && u.LastName != nil && *u.LastName != "" {
		return *u.FirstName + " " + *u.LastName
	}
	return u.Email
}

// OrganizationMember links a user to an organization with a role.
type OrganizationMember struct {
	ID             string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrganizationID string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_member_org_user;index" json:"organizationId"`
	UserID         string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_member_org_user" json:"-"`
	Role           Role      `gorm:"type:varchar(16);not null" json:"role"`
	CreatedAt      time.Time `gorm:"not null" json:"createdAt"`

	// Associations
	User User `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"user"`
}

func (m *OrganizationMember) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

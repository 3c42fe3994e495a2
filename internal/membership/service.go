package membership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"emergency-portal-backend/internal/model"
	"emergency-portal-backend/internal/realtime"
	"emergency-portal-backend/internal/store"
)

var (
	ErrInvalidRole  = errors.New("invalid role")
	ErrInvalidEmail = errors.New("invalid email")
)

// JoinRequest identifies the user joining an organization.
type JoinRequest struct {
	Email     string
	FirstName *string
	LastName  *string
}

// Service mutates memberships and announces each committed change on the
// organization's broadcast channel.
type Service struct {
	store     store.MemberStore
	publisher *realtime.Publisher
}

func NewService(s store.MemberStore, publisher *realtime.Publisher) *Service {
	return &Service{store: s, publisher: publisher}
}

// List returns the members of organizationID, newest first.
func (s *Service) List(ctx context.Context, organizationID string) ([]model.OrganizationMember, error) {
	return s.store.ListMembers(ctx, organizationID)
}

// Join adds the user to the organization. The first member becomes its owner.
func (s *Service) Join(ctx context.Context, organizationID string, req JoinRequest) (model.OrganizationMember, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return model.OrganizationMember{}, fmt.Errorf("%w: %q", ErrInvalidEmail, req.Email)
	}

	member, err := s.store.AddMember(ctx, organizationID, store.NewUser{
		Email:     email,
		FirstName: trimmed(req.FirstName),
		LastName:  trimmed(req.LastName),
	})
	if err != nil {
		return model.OrganizationMember{}, err
	}

	slog.Info("member joined organization", "organization_id", organizationID, "member_id", member.ID, "role", member.Role)
	s.publisher.MemberJoined(ctx, member)
	return member, nil
}

// Leave removes a membership. The last owner cannot leave.
func (s *Service) Leave(ctx context.Context, organizationID, memberID string) (model.OrganizationMember, error) {
	member, err := s.store.RemoveMember(ctx, organizationID, memberID)
	if err != nil {
		return model.OrganizationMember{}, err
	}

	slog.Info("member left organization", "organization_id", organizationID, "member_id", member.ID)
	s.publisher.MemberLeft(ctx, organizationID, member.ID)
	return member, nil
}

// ChangeRole updates the role of a member. Nothing is published when the role is unchanged.
func (s *Service) ChangeRole(ctx context.Context, organizationID, memberID string, role model.Role) (model.OrganizationMember, error) {
	role = model.Role(strings.ToUpper(string(role)))
	if !role.Valid() {
		return model.OrganizationMember{}, fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}

	member, changed, err := s.store.UpdateMemberRole(ctx, organizationID, memberID, role)
	if err != nil {
		return model.OrganizationMember{}, err
	}
	if changed {
		slog.Info("member role changed", "organization_id", organizationID, "member_id", member.ID, "role", role)
		s.publisher.RoleChanged(ctx, organizationID, member.ID, role)
	}
	return member, nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

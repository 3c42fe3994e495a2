package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"emergency-portal-backend/internal/model"
)

func (s *gormStore) ListMembers(ctx context.Context, organizationID string) ([]model.OrganizationMember, error) {
	var members []model.OrganizationMember
	if err := s.db.WithContext(ctx).
		Preload("User").
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&members).Error; err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", organizationID, err)
	}
	return members, nil
}

// AddMember creates the user if needed and attaches it to the organization.
// The first member of an organization becomes its OWNER.
func (s *gormStore) AddMember(ctx context.Context, organizationID string, newUser NewUser) (model.OrganizationMember, error) {
	var member model.OrganizationMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := findOrCreateUser(tx, newUser)
		if err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&model.OrganizationMember{}).
			Where("organization_id = ? AND user_id = ?", organizationID, user.ID).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("failed to check membership: %w", err)
		}
		if existing > 0 {
			return ErrAlreadyMember
		}

		var total int64
		if err := tx.Model(&model.OrganizationMember{}).
			Where("organization_id = ?", organizationID).
			Count(&total).Error; err != nil {
			return fmt.Errorf("failed to count members: %w", err)
		}

		role := model.RoleMember
		if total == 0 {
			role = model.RoleOwner
		}

		member = model.OrganizationMember{
			OrganizationID: organizationID,
			UserID:         user.ID,
			Role:           role,
		}
		if err := tx.Omit("User").Create(&member).Error; err != nil {
			return fmt.Errorf("failed to create membership: %w", err)
		}
		member.User = user
		return nil
	})
	if err != nil {
		return model.OrganizationMember{}, err
	}
	return member, nil
}

func findOrCreateUser(tx *gorm.DB, newUser NewUser) (model.User, error) {
	var user model.User
	err := tx.Where("email = ?", newUser.Email).Take(&user).Error
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, fmt.Errorf("failed to look up user %s: %w", newUser.Email, err)
	}

	user = model.User{
		Email:     newUser.Email,
		FirstName: newUser.FirstName,
		LastName:  newUser.LastName,
	}
	if err := tx.Create(&user).Error; err != nil {
		return model.User{}, fmt.Errorf("failed to create user %s: %w", newUser.Email, err)
	}
	return user, nil
}

// RemoveMember deletes the membership and returns it as it was before removal.
func (s *gormStore) RemoveMember(ctx context.Context, organizationID, memberID string) (model.OrganizationMember, error) {
	var member model.OrganizationMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		member, err = loadMember(tx, organizationID, memberID)
		if err != nil {
			return err
		}

		if member.Role == model.RoleOwner {
			if err := ensureAnotherOwner(tx, organizationID); err != nil {
				return err
			}
		}

		if err := tx.Delete(&model.OrganizationMember{}, "id = ?", member.ID).Error; err != nil {
			return fmt.Errorf("failed to delete membership %s: %w", member.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.OrganizationMember{}, err
	}
	return member, nil
}

func (s *gormStore) UpdateMemberRole(ctx context.Context, organizationID, memberID string, role model.Role) (model.OrganizationMember, bool, error) {
	var (
		member  model.OrganizationMember
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		member, err = loadMember(tx, organizationID, memberID)
		if err != nil {
			return err
		}
		if member.Role == role {
			return nil
		}

		if member.Role == model.RoleOwner {
			if err := ensureAnotherOwner(tx, organizationID); err != nil {
				return err
			}
		}

		if err := tx.Model(&model.OrganizationMember{}).
			Where("id = ?", member.ID).
			Update("role", role).Error; err != nil {
			return fmt.Errorf("failed to update role of %s: %w", member.ID, err)
		}
		member.Role = role
		changed = true
		return nil
	})
	if err != nil {
		return model.OrganizationMember{}, false, err
	}
	return member, changed, nil
}

func loadMember(tx *gorm.DB, organizationID, memberID string) (model.OrganizationMember, error) {
	var member model.OrganizationMember
	err := tx.Preload("User").
		Where("id = ? AND organization_id = ?", memberID, organizationID).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.OrganizationMember{}, ErrNotFound
	}
	if err != nil {
		return model.OrganizationMember{}, fmt.Errorf("failed to load member %s: %w", memberID, err)
	}
	return member, nil
}

// ensureAnotherOwner fails with ErrLastOwner unless the organization has more than one owner.
func ensureAnotherOwner(tx *gorm.DB, organizationID string) error {
	var owners int64
	if err := tx.Model(&model.OrganizationMember{}).
		Where("organization_id = ? AND role = ?", organizationID, model.RoleOwner).
		Count(&owners).Error; err != nil {
		return fmt.Errorf("failed to count owners: %w", err)
	}
	if owners <= 1 {
		return ErrLastOwner
	}
	return nil
}

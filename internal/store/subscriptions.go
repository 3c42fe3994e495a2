package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"emergency-portal-backend/internal/model"
)

func (s *gormStore) RegisterSubscription(ctx context.Context, endpoint string, keys SubscriptionKeys) (model.PushSubscription, bool, error) {
	sub := model.PushSubscription{
		Endpoint: endpoint,
		P256DH:   keys.P256DH,
		Auth:     keys.Auth,
	}

	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint"}},
			DoNothing: true,
		}).
		Create(&sub)
	if result.Error != nil {
		return model.PushSubscription{}, false, fmt.Errorf("failed to register subscription: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return sub, true, nil
	}

	var existing model.PushSubscription
	if err := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Take(&existing).Error; err != nil {
		return model.PushSubscription{}, false, fmt.Errorf("failed to load existing subscription: %w", err)
	}
	return existing, false, nil
}

func (s *gormStore) UnregisterSubscription(ctx context.Context, endpoint string) error {
	result := s.db.WithContext(ctx).Where("endpoint = ?", endpoint).Delete(&model.PushSubscription{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete subscription: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Order("created_at").Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

package store

import (
	"context"
	"fmt"

	"gorm.io/gorm/clause"

	"emergency-portal-backend/internal/model"
)

func (s *gormStore) LastEarthquakeID(ctx context.Context) (string, bool, error) {
	var alerts []model.EarthquakeAlert
	if err := s.db.WithContext(ctx).
		Where("id = ?", model.EarthquakeAlertID).
		Limit(1).
		Find(&alerts).Error; err != nil {
		return "", false, fmt.Errorf("failed to read earthquake marker: %w", err)
	}
	if len(alerts) == 0 {
		return "", false, nil
	}
	return alerts[0].LastEarthquakeID, true, nil
}

// SetLastEarthquakeID upserts the singleton marker row.
func (s *gormStore) SetLastEarthquakeID(ctx context.Context, id string) error {
	alert := model.EarthquakeAlert{
		ID:               model.EarthquakeAlertID,
		LastEarthquakeID: id,
	}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_earthquake_id", "updated_at"}),
	}).Create(&alert).Error; err != nil {
		return fmt.Errorf("failed to update earthquake marker: %w", err)
	}
	return nil
}

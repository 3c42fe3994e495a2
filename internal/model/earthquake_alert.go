package model

import "time"

// EarthquakeAlertID is the primary key of the only earthquake_alerts row.
const EarthquakeAlertID = 1

// EarthquakeAlert is the global cursor over the upstream feed. Exactly one row exists.
type EarthquakeAlert struct {
	ID               int64     `gorm:"primaryKey;autoIncrement:false"`
	LastEarthquakeID string    `gorm:"size:128;not null"`
	UpdatedAt        time.Time `gorm:"not null"`
}

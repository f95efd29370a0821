package models

import "time"

// ObservationRecord remembers a completed observation for the strategy that picked it.
// Adaptive strategies read it back to influence their next selection.
type ObservationRecord struct {
	ID         string    `gorm:"type:uuid;primaryKey"`
	Strategy   string    `gorm:"type:varchar(32);index:idx_obsrec_strategy"`
	ProgramID  string    `gorm:"type:uuid;index"`
	TargetID   string    `gorm:"type:uuid;index:idx_obsrec_strategy"`
	PI         string    `gorm:"column:pi;type:varchar(128)"`
	ObservedAt time.Time `gorm:"index"`
	Exposure   float64   // seconds
	CreatedAt  time.Time
}

// TableName returns the table name for GORM.
func (ObservationRecord) TableName() string {
	return "observation_records"
}

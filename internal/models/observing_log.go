/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Observing log action texts written by the controller.
const (
	LogProgramStarted = "ROBOBS: Program Started"
	LogProgramEnded   = "ROBOBS: Program End with status %s(%s)"
	LogRobStateOn     = "ROBOBS: Switching robstate on"
	LogRobStateOff    = "ROBOBS: Switching robstate off"
	LogSafetyPark     = "ROBOBS: No program on queue, sending telescope to park position"
	LogReset          = "ROBOBS: Scheduler reset"
)

// ObservingLog is an append-only record of what the telescope did.
type ObservingLog struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Time      time.Time `gorm:"column:logged_at;index:idx_obslog_time;not null"`
	TargetID  string    `gorm:"type:varchar(36);index"`
	Name      string    `gorm:"type:varchar(255)"`
	Priority  int
	Action    string `gorm:"type:text"`
	CreatedAt time.Time
}

// TableName returns the table name for GORM.
func (ObservingLog) TableName() string {
	return "observing_logs"
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"
)

// Target is a sky position to observe. Coordinates are J2000 degrees.
type Target struct {
	ID        string  `gorm:"type:uuid;primaryKey"`
	Name      string  `gorm:"uniqueIndex"`
	RA        float64 `gorm:"column:ra"`
	Dec       float64 `gorm:"column:dec"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BlockPar holds the visibility constraints and the scheduling strategy of a program.
type BlockPar struct {
	ID             string `gorm:"type:uuid;primaryKey"`
	Name           string `gorm:"uniqueIndex"`
	MinAirmass     float64
	MaxAirmass     float64
	MinMoonBright  float64 // percent illuminated
	MaxMoonBright  float64
	MinMoonDist    float64 // degrees
	MaxSeeing      float64 // arcsec
	SchedAlgorithm string  `gorm:"type:varchar(32);index"`
	Weight         float64 // fairshare weight, <= 0 means 1
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ObsBlock is an ordered sequence of instrument actions.
type ObsBlock struct {
	ID        string   `gorm:"type:uuid;primaryKey"`
	Name      string   `gorm:"uniqueIndex"`
	Actions   []Action `gorm:"foreignKey:ObsBlockID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ActionType enumerates the instrument actions a block may contain.
type ActionType string

const (
	ActionExpose    ActionType = "expose"
	ActionPoint     ActionType = "point"
	ActionAutoFocus ActionType = "autofocus"
	ActionAutoFlat  ActionType = "autoflat"
	ActionVerify    ActionType = "verify"
)

// Action is a single step of an observation block.
type Action struct {
	ID         string     `gorm:"type:uuid;primaryKey"`
	ObsBlockID string     `gorm:"type:uuid;index"`
	Seq        int        `gorm:"index"`
	Type       ActionType `gorm:"type:varchar(16)"`

	// expose
	ExpTime   float64 // seconds
	Frames    int
	Filter    string `gorm:"type:varchar(32)"`
	ImageType string `gorm:"type:varchar(16)"`
	Shutter   string `gorm:"type:varchar(16)"`
	Filename  string

	// point; either equatorial or horizontal coordinates, empty means "the program target"
	RA  *float64 `gorm:"column:ra"`
	Dec *float64 `gorm:"column:dec"`
	Alt *float64
	Az  *float64

	// autofocus
	FocusStart float64
	FocusEnd   float64
	FocusStep  float64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Program is an observation request owned by the program store.
type Program struct {
	ID         string     `gorm:"type:uuid;primaryKey"`
	Name       string     `gorm:"index"`
	PI         string     `gorm:"column:pi;type:varchar(128);index"`
	Priority   int        `gorm:"index:idx_program_queue"`
	TargetID   string     `gorm:"type:uuid;index"`
	BlockParID string     `gorm:"type:uuid;index"`
	ObsBlockID string     `gorm:"type:uuid;index"`
	SlewAt     *time.Time `gorm:"index"` // nil means as soon as possible
	Finished   bool       `gorm:"index:idx_program_queue"`

	Target   Target   `gorm:"foreignKey:TargetID"`
	BlockPar BlockPar `gorm:"foreignKey:BlockParID"`
	ObsBlock ObsBlock `gorm:"foreignKey:ObsBlockID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TableName overrides for GORM.
func (Target) TableName() string   { return "targets" }
func (BlockPar) TableName() string { return "block_pars" }
func (ObsBlock) TableName() string { return "obs_blocks" }
func (Action) TableName() string   { return "actions" }
func (Program) TableName() string  { return "programs" }

// ExposureTime returns the total shutter time of the block: exptime × frames summed
// over its expose actions.
func (b ObsBlock) ExposureTime() time.Duration {
	var seconds float64
	for _, act := range b.Actions {
		if act.Type != ActionExpose {
			continue
		}
		seconds += act.ExpTime * float64(act.Frames)
	}
	return time.Duration(seconds * float64(time.Second))
}

// HasSlewAt reports whether the program carries an earliest start time.
func (p *Program) HasSlewAt() bool {
	return p.SlewAt != nil && !p.SlewAt.IsZero()
}

// StartAfter returns the later of now and the program's slew time.
func (p *Program) StartAfter(now time.Time) time.Time {
	if p.HasSlewAt() && p.SlewAt.After(now) {
		return *p.SlewAt
	}
	return now
}

// WaitFrom returns how long after now the program may start, never negative.
func (p *Program) WaitFrom(now time.Time) time.Duration {
	if !p.HasSlewAt() {
		return 0
	}
	wait := p.SlewAt.Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

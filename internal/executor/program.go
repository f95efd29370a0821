/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/robobs/internal/models"
)

// Names of the programs the controller generates itself.
const (
	SafetyProgram = "SAFETY"
	ResetProgram  = "RESET"
)

// Action is one sequencer step.
type Action struct {
	Type models.ActionType `json:"type"`

	RA  *float64 `json:"ra,omitempty"`
	Dec *float64 `json:"dec,omitempty"`
	Alt *float64 `json:"alt,omitempty"`
	Az  *float64 `json:"az,omitempty"`

	ExpTime   float64 `json:"exptime,omitempty"`
	Frames    int     `json:"frames,omitempty"`
	Filter    string  `json:"filter,omitempty"`
	ImageType string  `json:"image_type,omitempty"`
	Shutter   string  `json:"shutter,omitempty"`
	Filename  string  `json:"filename,omitempty"`

	FocusStart float64 `json:"focus_start,omitempty"`
	FocusEnd   float64 `json:"focus_end,omitempty"`
	FocusStep  float64 `json:"focus_step,omitempty"`
}

// String describes the action for logs.
func (a Action) String() string {
	switch a.Type {
	case models.ActionPoint:
		switch {
		case a.Alt != nil && a.Az != nil:
			return fmt.Sprintf("point alt=%.2f az=%.2f", *a.Alt, *a.Az)
		case a.RA != nil && a.Dec != nil:
			return fmt.Sprintf("point ra=%.4f dec=%.4f", *a.RA, *a.Dec)
		}
		return "point"
	case models.ActionExpose:
		return fmt.Sprintf("expose %dx%.1fs filter=%s type=%s", a.Frames, a.ExpTime, a.Filter, a.ImageType)
	case models.ActionAutoFocus:
		return fmt.Sprintf("autofocus %.0f..%.0f step %.0f", a.FocusStart, a.FocusEnd, a.FocusStep)
	default:
		return string(a.Type)
	}
}

// Program is the sequencer's representation of a queued program.
type Program struct {
	ID string `json:"id"`
	// SourceID is the store program this was built from, empty for generated programs.
	SourceID string `json:"source_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Name     string `json:"name"`
	PI       string `json:"pi,omitempty"`
	Priority int    `json:"priority"`
	// SlewAt is the earliest instant the sequencer may begin the program.
	SlewAt    *time.Time `json:"slew_at,omitempty"`
	Actions   []Action   `json:"actions"`
	CreatedAt time.Time  `json:"created_at"`
}

// Duration sums the shutter time of the program's exposures.
func (p Program) Duration() time.Duration {
	var seconds float64
	for _, a := range p.Actions {
		if a.Type == models.ActionExpose {
			seconds += a.ExpTime * float64(a.Frames)
		}
	}
	return time.Duration(seconds * float64(time.Second))
}

// FromCandidate builds a sequencer program from a selected candidate, keeping
// the block's action order. Point actions without coordinates aim at the
// program's target.
func FromCandidate(c models.Candidate) Program {
	p := Program{
		ID:        uuid.NewString(),
		SourceID:  c.Program.ID,
		TargetID:  c.Program.TargetID,
		Name:      c.Program.Name,
		PI:        c.Program.PI,
		Priority:  c.Program.Priority,
		CreatedAt: time.Now().UTC(),
	}
	if c.Program.HasSlewAt() {
		at := c.Program.SlewAt.UTC()
		p.SlewAt = &at
	}
	target := c.Target()
	for _, act := range c.Block().Actions {
		a := Action{
			Type:       act.Type,
			RA:         act.RA,
			Dec:        act.Dec,
			Alt:        act.Alt,
			Az:         act.Az,
			ExpTime:    act.ExpTime,
			Frames:     act.Frames,
			Filter:     act.Filter,
			ImageType:  act.ImageType,
			Shutter:    act.Shutter,
			Filename:   act.Filename,
			FocusStart: act.FocusStart,
			FocusEnd:   act.FocusEnd,
			FocusStep:  act.FocusStep,
		}
		if a.Type == models.ActionPoint && a.RA == nil && a.Alt == nil {
			ra, dec := target.RA, target.Dec
			a.RA, a.Dec = &ra, &dec
		}
		p.Actions = append(p.Actions, a)
	}
	return p
}

// Park builds the safety program that slews to the parking position.
func Park(alt, az float64) Program {
	return Program{
		ID:        uuid.NewString(),
		Name:      SafetyProgram,
		CreatedAt: time.Now().UTC(),
		Actions:   []Action{{Type: models.ActionPoint, Alt: &alt, Az: &az}},
	}
}

// Reset builds the program that takes a closed-shutter bias frame to return
// the instruments to a known state.
func Reset() Program {
	return Program{
		ID:        uuid.NewString(),
		Name:      ResetProgram,
		CreatedAt: time.Now().UTC(),
		Actions: []Action{{
			Type:      models.ActionExpose,
			ExpTime:   0,
			Frames:    1,
			ImageType: "BIAS",
			Shutter:   "CLOSE",
			Filename:  "RESET-$DATE-$TIME",
		}},
	}
}

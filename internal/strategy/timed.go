/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package strategy

import (
	"context"
	"time"

	"github.com/friendsincode/robobs/internal/models"
)

// DefaultTimedGrace is how far past its slew time a timed program is still taken.
const DefaultTimedGrace = 5 * time.Minute

// FixedTime serves programs that must begin at their slew time. Programs
// whose slew time passed more than the grace period ago are skipped.
type FixedTime struct {
	recorder
	grace time.Duration
}

// NewTimed creates the fixed start time strategy.
func NewTimed(h History, grace time.Duration) *FixedTime {
	if grace <= 0 {
		grace = DefaultTimedGrace
	}
	return &FixedTime{recorder: recorder{id: Timed, history: h}, grace: grace}
}

func (s *FixedTime) TimedConstraint() bool { return true }

func (s *FixedTime) Next(_ context.Context, at time.Time, candidates []models.Candidate) (*models.Candidate, error) {
	oldest := at.Add(-s.grace)
	i := earliest(candidates, func(c models.Candidate) bool {
		return c.Program.HasSlewAt() && !c.Program.SlewAt.Before(oldest)
	})
	return pick(candidates, i), nil
}

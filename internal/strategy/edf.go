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

// EarliestFirst picks the program that may start soonest. Programs without a
// slew time come first, in the order given.
type EarliestFirst struct {
	recorder
}

// NewEDF creates the earliest-start strategy.
func NewEDF(h History) *EarliestFirst {
	return &EarliestFirst{recorder{id: EDF, history: h}}
}

func (s *EarliestFirst) TimedConstraint() bool { return false }

func (s *EarliestFirst) Next(_ context.Context, _ time.Time, candidates []models.Candidate) (*models.Candidate, error) {
	return pick(candidates, earliest(candidates, func(models.Candidate) bool { return true })), nil
}

// earliest returns the index of the candidate with the earliest slew time among
// those accepted by keep, unset first, or -1.
func earliest(candidates []models.Candidate, keep func(models.Candidate) bool) int {
	best := -1
	for i, c := range candidates {
		if !keep(c) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := candidates[best].Program
		switch {
		case !b.HasSlewAt():
		case !c.Program.HasSlewAt():
			best = i
		case c.Program.SlewAt.Before(*b.SlewAt):
			best = i
		}
	}
	return best
}

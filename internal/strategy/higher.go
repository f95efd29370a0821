/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package strategy

import (
	"context"
	"fmt"
	"time"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/site"
)

// HighestAltitude picks the candidate standing highest in the sky at the
// reference time.
type HighestAltitude struct {
	recorder
	site site.Site
}

// NewHigher creates the highest-altitude strategy.
func NewHigher(s site.Site, h History) *HighestAltitude {
	return &HighestAltitude{recorder: recorder{id: Higher, history: h}, site: s}
}

func (s *HighestAltitude) TimedConstraint() bool { return false }

func (s *HighestAltitude) Next(ctx context.Context, at time.Time, candidates []models.Candidate) (*models.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	lst, err := s.site.LST(ctx, at)
	if err != nil {
		return nil, fmt.Errorf("sidereal time: %w", err)
	}

	best, bestAlt := -1, 0.0
	for i, c := range candidates {
		t := c.Target()
		pos, err := s.site.RaDecToAltAz(ctx, site.RaDec{RA: t.RA, Dec: t.Dec}, lst)
		if err != nil {
			return nil, fmt.Errorf("altitude of %s: %w", t.Name, err)
		}
		if best < 0 || pos.Alt > bestAlt {
			best, bestAlt = i, pos.Alt
		}
	}
	return pick(candidates, best), nil
}

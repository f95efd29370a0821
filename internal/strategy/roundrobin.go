package strategy

import (
	"context"
	"time"

	"github.com/friendsincode/robobs/internal/models"
)

// LeastRecent cycles through targets: never observed targets first, then the
// one observed longest ago.
type LeastRecent struct {
	recorder
}

// NewRoundRobin creates the round-robin strategy.
func NewRoundRobin(h History) *LeastRecent {
	return &LeastRecent{recorder{id: RoundRobin, history: h}}
}

func (s *LeastRecent) TimedConstraint() bool { return false }

func (s *LeastRecent) Next(ctx context.Context, _ time.Time, candidates []models.Candidate) (*models.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Program.TargetID)
	}
	last, err := s.history.LastObserved(ctx, s.id, ids)
	if err != nil {
		return nil, err
	}

	best := -1
	var bestAt time.Time
	for i, c := range candidates {
		at, seen := last[c.Program.TargetID]
		if !seen {
			return pick(candidates, i), nil
		}
		if best < 0 || at.Before(bestAt) {
			best, bestAt = i, at
		}
	}
	return pick(candidates, best), nil
}

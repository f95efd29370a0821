package strategy

import (
	"context"
	"time"

	"github.com/friendsincode/robobs/internal/models"
)

// WeightedShare balances exposure time between PIs. The candidate whose PI has
// the smallest accumulated exposure divided by the block weight wins.
type WeightedShare struct {
	recorder
}

// NewFairShare creates the fair-share strategy.
func NewFairShare(h History) *WeightedShare {
	return &WeightedShare{recorder{id: FairShare, history: h}}
}

func (s *WeightedShare) TimedConstraint() bool { return false }

func (s *WeightedShare) Next(ctx context.Context, _ time.Time, candidates []models.Candidate) (*models.Candidate, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	used, err := s.history.ExposureByPI(ctx, s.id)
	if err != nil {
		return nil, err
	}

	best, bestUsage := -1, 0.0
	for i, c := range candidates {
		weight := c.BlockPar().Weight
		if weight <= 0 {
			weight = 1
		}
		usage := used[c.Program.PI] / weight
		if best < 0 || usage < bestUsage {
			best, bestUsage = i, usage
		}
	}
	return pick(candidates, best), nil
}

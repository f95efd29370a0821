/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package strategy holds the scheduling strategies that pick one program out of
// the candidates sharing a priority tier.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/models"
)

// ErrUnknownStrategy is returned for identifiers with no registered strategy.
var ErrUnknownStrategy = errors.New("unknown scheduling strategy")

// Strategy picks the best candidate among programs sharing a tier.
type Strategy interface {
	// ID is the identifier programs use to select this strategy.
	ID() string
	// Next returns the preferred candidate at the reference time, or nil.
	Next(ctx context.Context, at time.Time, candidates []models.Candidate) (*models.Candidate, error)
	// TimedConstraint reports whether programs must start exactly at their slew time.
	TimedConstraint() bool
	// Observed records a completed observation for adaptive selection.
	Observed(ctx context.Context, at time.Time, c models.Candidate) error
}

// History is the observation record the adaptive strategies learn from.
type History interface {
	RecordObservation(ctx context.Context, rec *models.ObservationRecord) error
	LastObserved(ctx context.Context, strategy string, targetIDs []string) (map[string]time.Time, error)
	ExposureByPI(ctx context.Context, strategy string) (map[string]float64, error)
}

// Registry maps strategy identifiers to implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	strategies map[string]Strategy
	logger     zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		strategies: make(map[string]Strategy),
		logger:     logger.With().Str("component", "strategy-registry").Logger(),
	}
}

// Register adds a strategy keyed by its ID, replacing any previous one.
func (r *Registry) Register(s Strategy) {
	r.strategies[s.ID()] = s
	r.logger.Debug().Str("strategy", s.ID()).Bool("timed", s.TimedConstraint()).Msg("strategy registered")
}

// Get returns the strategy for id.
func (r *Registry) Get(id string) (Strategy, error) {
	s, ok := r.strategies[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, id)
	}
	return s, nil
}

// IDs returns the registered identifiers in sorted order.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// recorder implements Observed on top of History.
type recorder struct {
	id      string
	history History
}

func (r recorder) ID() string { return r.id }

func (r recorder) Observed(ctx context.Context, at time.Time, c models.Candidate) error {
	if r.history == nil {
		return nil
	}
	return r.history.RecordObservation(ctx, &models.ObservationRecord{
		Strategy:   r.id,
		ProgramID:  c.Program.ID,
		TargetID:   c.Program.TargetID,
		PI:         c.Program.PI,
		ObservedAt: at.UTC(),
		Exposure:   c.Duration.Seconds(),
	})
}

// pick returns a copy of the candidate at index i, or nil when i < 0.
func pick(candidates []models.Candidate, i int) *models.Candidate {
	if i < 0 {
		return nil
	}
	c := candidates[i]
	return &c
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler picks the next program to observe: per priority tier
// through the tier's strategies, then across tiers.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/feasibility"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/strategy"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// DefaultProbeSamples is the number of instants probed when pulling a slew time earlier.
const DefaultProbeSamples = 50

// ProgramStore is the part of the program store the scheduler reads and writes.
type ProgramStore interface {
	Tiers(ctx context.Context) ([]int, error)
	Unfinished(ctx context.Context, tier int) ([]models.Program, error)
	AdvanceSlewAt(ctx context.Context, id string, at time.Time) error
}

// Feasibility decides whether a candidate can be observed.
type Feasibility interface {
	Feasible(ctx context.Context, c models.Candidate, at time.Time, duration time.Duration, extra ...feasibility.Checker) (bool, error)
}

// Service selects programs.
type Service struct {
	store        ProgramStore
	strategies   *strategy.Registry
	feasibility  Feasibility
	probeSamples int
	bus          events.Publisher
	logger       zerolog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher announces persisted slew time changes on an event bus.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.bus = p }
}

// New constructs the scheduler service.
func New(store ProgramStore, strategies *strategy.Registry, eval Feasibility, probeSamples int, logger zerolog.Logger, opts ...Option) *Service {
	if probeSamples < 2 {
		probeSamples = DefaultProbeSamples
	}
	s := &Service{
		store:        store,
		strategies:   strategies,
		feasibility:  eval,
		probeSamples: probeSamples,
		logger:       logger.With().Str("component", "scheduler").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Strategies returns the strategy table the service selects with.
func (s *Service) Strategies() *strategy.Registry { return s.strategies }

// SelectForTier returns the program the tier's strategies prefer at now, or nil.
// An earlier feasible slew time found by probing is persisted.
func (s *Service) SelectForTier(ctx context.Context, now time.Time, tier int) (*models.Candidate, error) {
	return s.selectForTier(ctx, now, tier, true)
}

func (s *Service) selectForTier(ctx context.Context, now time.Time, tier int, persist bool) (*models.Candidate, error) {
	programs, err := s.store.Unfinished(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("load tier %d: %w", tier, err)
	}

	groups := make(map[string][]models.Candidate)
	for _, p := range programs {
		c := models.NewCandidate(p)
		groups[c.Strategy()] = append(groups[c.Strategy()], c)
	}
	ids := make([]string, 0, len(groups))
	for id := range groups {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		strat, err := s.strategies.Get(id)
		if err != nil {
			s.logger.Warn().Err(err).Int("tier", tier).Int("programs", len(groups[id])).Msg("skipping programs with unknown strategy")
			telemetry.UnknownStrategyTotal.WithLabelValues(id).Inc()
			continue
		}

		c, err := strat.Next(ctx, now, groups[id])
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", id, err)
		}
		if c == nil {
			continue
		}
		s.logger.Debug().Int("tier", tier).Str("strategy", id).Str("program", c.Program.Name).Dur("duration", c.Duration).Msg("tier candidate")

		if !strat.TimedConstraint() && c.Program.HasSlewAt() && c.Program.SlewAt.After(now) {
			if err := s.pullEarlier(ctx, now, c, persist); err != nil {
				return nil, err
			}
		}
		return c, nil
	}

	s.logger.Debug().Int("tier", tier).Msg("no program found")
	return nil, nil
}

// pullEarlier probes evenly spaced instants from now to the slew time, both
// included, and moves the slew time to the earliest feasible one.
func (s *Service) pullEarlier(ctx context.Context, now time.Time, c *models.Candidate, persist bool) error {
	slewAt := *c.Program.SlewAt
	span := slewAt.Sub(now)
	steps := s.probeSamples - 1

	for i := 0; i <= steps; i++ {
		at := slewAt
		if i < steps {
			at = now.Add(time.Duration(float64(span) * float64(i) / float64(steps)))
		}
		ok, err := s.feasibility.Feasible(ctx, *c, at, c.Duration)
		if err != nil {
			return fmt.Errorf("probe %s: %w", c.Program.Name, err)
		}
		if !ok {
			continue
		}
		if !at.Before(slewAt) {
			return nil
		}

		s.logger.Debug().Str("program", c.Program.Name).Time("from", slewAt).Time("to", at).Msg("pulling slew time earlier")
		c.Program.SlewAt = &at
		if !persist {
			return nil
		}
		if err := s.store.AdvanceSlewAt(ctx, c.Program.ID, at); err != nil {
			return fmt.Errorf("advance slew time: %w", err)
		}
		telemetry.SlewAdvancesTotal.Inc()
		if s.bus != nil {
			s.bus.Publish(events.EventSlewAdvanced, events.Payload{
				"program":    c.Program.Name,
				"program_id": c.Program.ID,
				"from":       slewAt.UTC(),
				"to":         at.UTC(),
			})
		}
		return nil
	}
	return nil
}

// Reshedule picks a single program to run next across all tiers, or nil.
func (s *Service) Reshedule(ctx context.Context, now time.Time) (*models.Candidate, error) {
	return s.reshedule(ctx, now, true)
}

// Preview runs the same selection at an arbitrary instant without persisting
// any slew time change.
func (s *Service) Preview(ctx context.Context, at time.Time) (*models.Candidate, error) {
	return s.reshedule(ctx, at, false)
}

func (s *Service) reshedule(ctx context.Context, now time.Time, persist bool) (selected *models.Candidate, err error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "reshedule")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{
		"now":     now.UTC().Format(time.RFC3339),
		"persist": persist,
	})

	start := time.Now()
	defer func() {
		telemetry.ResheduleDuration.Observe(time.Since(start).Seconds())
		outcome := "none"
		switch {
		case err != nil:
			outcome = "error"
			telemetry.RecordError(span, err)
		case selected != nil:
			outcome = "selected"
			telemetry.AddSpanAttributes(span, map[string]any{
				"program":  selected.Program.Name,
				"priority": selected.Program.Priority,
			})
		}
		telemetry.ResheduleTotal.WithLabelValues(outcome).Inc()
	}()

	tiers, err := s.store.Tiers(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tiers: %w", err)
	}
	if len(tiers) == 0 {
		return nil, nil
	}

	selected, err = s.selectForTier(ctx, now, tiers[0], persist)
	if err != nil {
		return nil, err
	}
	if selected != nil && !selected.Program.HasSlewAt() {
		ok, err := s.feasibility.Feasible(ctx, *selected, now, selected.Duration)
		if err != nil {
			return nil, err
		}
		if ok {
			s.logger.Info().Str("program", selected.Program.Name).Int("priority", tiers[0]).Msg("most urgent program can start now")
			return selected, nil
		}
		s.logger.Debug().Str("program", selected.Program.Name).Msg("most urgent program not observable now")
		selected = nil
	}

	var wait time.Duration
	if selected != nil {
		wait = selected.Program.WaitFrom(now)
	}

	for _, tier := range tiers[1:] {
		alt, err := s.selectForTier(ctx, now, tier, persist)
		if err != nil {
			return nil, err
		}
		if alt == nil {
			continue
		}

		ok, err := s.feasibility.Feasible(ctx, *alt, alt.Program.StartAfter(now), alt.Duration)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Debug().Int("tier", tier).Str("program", alt.Program.Name).Msg("alternate not observable, skipping tier")
			continue
		}

		altWait := alt.Program.WaitFrom(now)
		if selected == nil {
			s.logger.Debug().Int("tier", tier).Str("program", alt.Program.Name).Dur("wait", altWait).Msg("adopting alternate for empty slot")
			selected, wait = alt, altWait
			continue
		}

		if altWait+alt.Duration < wait {
			s.logger.Info().Int("tier", tier).Str("program", alt.Program.Name).Msg("alternate fits before selection")
			selected, wait = alt, altWait
			continue
		}
		if altWait < wait {
			after := now.Add(altWait + alt.Duration)
			ok, err := s.feasibility.Feasible(ctx, *selected, after, selected.Duration)
			if err != nil {
				return nil, err
			}
			if ok {
				s.logger.Info().Int("tier", tier).Str("program", alt.Program.Name).Str("deferred", selected.Program.Name).Msg("filling gap, selection still observable afterwards")
				selected, wait = alt, altWait
			}
		}
	}

	if selected == nil {
		return nil, nil
	}
	ok, err := s.feasibility.Feasible(ctx, *selected, selected.Program.StartAfter(now), selected.Duration)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Info().Str("program", selected.Program.Name).Msg("selection no longer observable")
		return nil, nil
	}
	s.logger.Info().Str("program", selected.Program.Name).Int("priority", selected.Program.Priority).Dur("wait", wait).Msg("program selected")
	return selected, nil
}

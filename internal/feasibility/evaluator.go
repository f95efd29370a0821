/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package feasibility decides whether a program can be observed at a given
// instant, optionally held through a duration.
package feasibility

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/site"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// Rejection reasons, also used as metric labels.
const (
	ReasonAirmass        = "airmass"
	ReasonTwilight       = "twilight"
	ReasonMoonBrightness = "moon_brightness"
	ReasonMoonDistance   = "moon_distance"
	ReasonSeeing         = "seeing"
	ReasonWeather        = "weather"
	ReasonCloud          = "cloud"
	ReasonExternal       = "external"
)

// Verdict is the outcome of an evaluation together with the values the gates saw.
// Fields for gates that were not reached are zero.
type Verdict struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`

	Altitude       float64   `json:"altitude"`
	Airmass        float64   `json:"airmass"`
	End            time.Time `json:"end,omitempty"`
	Twilight       time.Time `json:"twilight,omitempty"`
	MoonAltitude   float64   `json:"moon_altitude"`
	MoonBrightness float64   `json:"moon_brightness"`
	MoonDistance   float64   `json:"moon_distance"`
	Seeing         float64   `json:"seeing,omitempty"`
}

// Checker is an additional gate. Returning false with a detail rejects the candidate.
type Checker interface {
	Check(ctx context.Context, c models.Candidate, at time.Time) (ok bool, detail string, err error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, c models.Candidate, at time.Time) (bool, string, error)

func (f CheckerFunc) Check(ctx context.Context, c models.Candidate, at time.Time) (bool, string, error) {
	return f(ctx, c, at)
}

// Pass is a checker that accepts everything.
var Pass Checker = CheckerFunc(func(context.Context, models.Candidate, time.Time) (bool, string, error) {
	return true, "", nil
})

// Evaluator runs the visibility gates against the site collaborator.
type Evaluator struct {
	site    site.Site
	seeing  site.SeeingMonitor
	weather Checker
	cloud   Checker
	logger  zerolog.Logger
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithSeeing enables the seeing gate.
func WithSeeing(m site.SeeingMonitor) Option {
	return func(e *Evaluator) { e.seeing = m }
}

// WithWeather replaces the weather gate.
func WithWeather(c Checker) Option {
	return func(e *Evaluator) { e.weather = c }
}

// WithCloud replaces the cloud cover gate.
func WithCloud(c Checker) Option {
	return func(e *Evaluator) { e.cloud = c }
}

// New creates an evaluator bound to a site.
func New(s site.Site, logger zerolog.Logger, opts ...Option) *Evaluator {
	e := &Evaluator{
		site:    s,
		weather: Pass,
		cloud:   Pass,
		logger:  logger.With().Str("component", "feasibility").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Feasible reports whether c can start at at and, when duration > 0, finish
// before morning twilight.
func (e *Evaluator) Feasible(ctx context.Context, c models.Candidate, at time.Time, duration time.Duration, extra ...Checker) (bool, error) {
	v, err := e.Evaluate(ctx, c, at, duration, extra...)
	if err != nil {
		return false, err
	}
	return v.OK, nil
}

// Evaluate runs every gate in order and stops at the first rejection.
func (e *Evaluator) Evaluate(ctx context.Context, c models.Candidate, at time.Time, duration time.Duration, extra ...Checker) (Verdict, error) {
	var v Verdict
	bp := c.BlockPar()
	target := c.Target()
	log := e.logger.With().Str("program", c.Program.Name).Str("target", target.Name).Time("at", at).Logger()

	lst, err := e.site.LST(ctx, at)
	if err != nil {
		return v, fmt.Errorf("sidereal time: %w", err)
	}
	pos, err := e.site.RaDecToAltAz(ctx, site.RaDec{RA: target.RA, Dec: target.Dec}, lst)
	if err != nil {
		return v, fmt.Errorf("target altaz: %w", err)
	}
	v.Altitude = pos.Alt
	v.Airmass = site.Airmass(pos.Alt)
	if !within(v.Airmass, bp.MinAirmass, bp.MaxAirmass) {
		log.Debug().Float64("airmass", v.Airmass).Float64("min", bp.MinAirmass).Float64("max", bp.MaxAirmass).Msg("airmass out of range")
		return e.reject(v, ReasonAirmass, fmt.Sprintf("airmass %.3f outside [%.3f, %.3f]", v.Airmass, bp.MinAirmass, bp.MaxAirmass)), nil
	}

	if duration > 0 {
		v.End = at.Add(duration)
		v.Twilight, err = e.site.SunriseTwilightBegin(ctx, at)
		if err != nil {
			return v, fmt.Errorf("twilight: %w", err)
		}
		if v.End.After(v.Twilight) {
			log.Debug().Time("end", v.End).Time("twilight", v.Twilight).Msg("program would end after twilight")
			return e.reject(v, ReasonTwilight, fmt.Sprintf("ends %s after twilight %s", v.End.Format(time.RFC3339), v.Twilight.Format(time.RFC3339))), nil
		}
		// Re-checked at the start instant and never rejects.
		if am := site.Airmass(pos.Alt); !within(am, bp.MinAirmass, bp.MaxAirmass) {
			log.Debug().Float64("airmass", am).Msg("airmass out of range over duration, ignored")
		}
	}

	moon, err := e.site.MoonPosition(ctx, at)
	if err != nil {
		return v, fmt.Errorf("moon position: %w", err)
	}
	phase, err := e.site.MoonPhase(ctx, at)
	if err != nil {
		return v, fmt.Errorf("moon phase: %w", err)
	}
	v.MoonAltitude = moon.Alt
	v.MoonBrightness = phase * 100
	if moon.Alt >= 0 && !within(v.MoonBrightness, bp.MinMoonBright, bp.MaxMoonBright) {
		log.Debug().Float64("brightness", v.MoonBrightness).Msg("moon brightness out of range")
		return e.reject(v, ReasonMoonBrightness, fmt.Sprintf("moon %.1f%% outside [%.1f, %.1f]", v.MoonBrightness, bp.MinMoonBright, bp.MaxMoonBright)), nil
	}

	moonPos, err := e.site.AltAzToRaDec(ctx, moon, lst)
	if err != nil {
		return v, fmt.Errorf("moon radec: %w", err)
	}
	v.MoonDistance = site.Separation(site.RaDec{RA: target.RA, Dec: target.Dec}, moonPos)
	if v.MoonDistance < bp.MinMoonDist {
		log.Debug().Float64("distance", v.MoonDistance).Float64("min", bp.MinMoonDist).Msg("too close to the moon")
		return e.reject(v, ReasonMoonDistance, fmt.Sprintf("moon %.1f° away, need %.1f°", v.MoonDistance, bp.MinMoonDist)), nil
	}

	if e.seeing != nil {
		seeing, err := e.seeing.Seeing(ctx)
		if err != nil {
			return v, fmt.Errorf("seeing: %w", err)
		}
		v.Seeing = seeing
		switch {
		case seeing < 0:
			log.Warn().Float64("seeing", seeing).Msg("invalid seeing reading, ignored")
		case seeing > bp.MaxSeeing:
			log.Debug().Float64("seeing", seeing).Float64("max", bp.MaxSeeing).Msg("seeing too poor")
			return e.reject(v, ReasonSeeing, fmt.Sprintf("seeing %.2f\" above %.2f\"", seeing, bp.MaxSeeing)), nil
		}
	}

	gates := []struct {
		reason  string
		checker Checker
	}{
		{ReasonWeather, e.weather},
		{ReasonCloud, e.cloud},
	}
	for _, x := range extra {
		gates = append(gates, struct {
			reason  string
			checker Checker
		}{ReasonExternal, x})
	}
	for _, g := range gates {
		if g.checker == nil {
			continue
		}
		ok, detail, err := g.checker.Check(ctx, c, at)
		if err != nil {
			return v, fmt.Errorf("%s check: %w", g.reason, err)
		}
		if !ok {
			return e.reject(v, g.reason, detail), nil
		}
	}

	v.OK = true
	return v, nil
}

func (e *Evaluator) reject(v Verdict, reason, detail string) Verdict {
	telemetry.FeasibilityRejections.WithLabelValues(reason).Inc()
	v.OK = false
	v.Reason = reason
	v.Detail = detail
	return v
}

func within(x, lo, hi float64) bool {
	return x >= lo && x <= hi
}

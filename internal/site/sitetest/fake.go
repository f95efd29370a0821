/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sitetest provides an in-memory site for tests.
package sitetest

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/robobs/internal/site"
)

// Fake is a deterministic site. Its sidereal time encodes the instant it was
// computed for, so RaDecToAltAz can hand both position and time to Altitude.
type Fake struct {
	mu sync.Mutex

	// Clock is returned by Now.
	Clock time.Time
	// Altitude gives a target's altitude at an instant. Defaults to 60°.
	Altitude func(pos site.RaDec, at time.Time) float64
	// MoonAlt is the moon's altitude; MoonRaDec is what AltAzToRaDec reports for it.
	MoonAlt   float64
	MoonRaDec site.RaDec
	// Phase is the moon illumination fraction.
	Phase float64
	// Twilight is the morning twilight of every night. Zero means Clock+8h.
	Twilight time.Time
	// Err, when set, is returned from every call.
	Err error

	Calls int
}

// New returns a fake at now with the moon on the far side of the sky.
func New(now time.Time) *Fake {
	return &Fake{
		Clock:     now,
		MoonAlt:   -30,
		MoonRaDec: site.RaDec{RA: 180, Dec: -60},
		Phase:     0.1,
	}
}

// SetClock moves the fake clock.
func (f *Fake) SetClock(t time.Time) {
	f.mu.Lock()
	f.Clock = t
	f.mu.Unlock()
}

func (f *Fake) call() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls++
	return f.Err
}

func (f *Fake) Now(context.Context) (time.Time, error) {
	if err := f.call(); err != nil {
		return time.Time{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Clock, nil
}

// LST returns the instant as unix seconds.
func (f *Fake) LST(_ context.Context, t time.Time) (float64, error) {
	if err := f.call(); err != nil {
		return 0, err
	}
	return float64(t.UnixNano()) / 1e9, nil
}

func (f *Fake) RaDecToAltAz(_ context.Context, pos site.RaDec, lst float64) (site.AltAz, error) {
	if err := f.call(); err != nil {
		return site.AltAz{}, err
	}
	at := time.Unix(0, int64(lst*1e9)).UTC()
	alt := 60.0
	if f.Altitude != nil {
		alt = f.Altitude(pos, at)
	}
	return site.AltAz{Alt: alt, Az: 180}, nil
}

func (f *Fake) AltAzToRaDec(context.Context, site.AltAz, float64) (site.RaDec, error) {
	if err := f.call(); err != nil {
		return site.RaDec{}, err
	}
	return f.MoonRaDec, nil
}

func (f *Fake) MoonPosition(context.Context, time.Time) (site.AltAz, error) {
	if err := f.call(); err != nil {
		return site.AltAz{}, err
	}
	return site.AltAz{Alt: f.MoonAlt, Az: 0}, nil
}

func (f *Fake) MoonPhase(context.Context, time.Time) (float64, error) {
	if err := f.call(); err != nil {
		return 0, err
	}
	return f.Phase, nil
}

func (f *Fake) SunriseTwilightBegin(context.Context, time.Time) (time.Time, error) {
	if err := f.call(); err != nil {
		return time.Time{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Twilight.IsZero() {
		return f.Clock.Add(8 * time.Hour), nil
	}
	return f.Twilight, nil
}

// Seeing is a fixed seeing monitor.
type Seeing struct {
	Value float64
	Err   error
}

func (s Seeing) Seeing(context.Context) (float64, error) { return s.Value, s.Err }

var (
	_ site.Site          = (*Fake)(nil)
	_ site.SeeingMonitor = Seeing{}
)

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package site

import (
	"context"
	"time"
)

// EphemerisCache stores per-night twilight and bucketed moon phase answers.
// *cache.Cache implements it.
type EphemerisCache interface {
	GetTwilight(ctx context.Context, night string) (time.Time, bool)
	SetTwilight(ctx context.Context, night string, at time.Time) error
	GetMoonPhase(ctx context.Context, t time.Time) (float64, bool)
	SetMoonPhase(ctx context.Context, t time.Time, phase float64) error
}

// Cached answers twilight and moon phase queries from the ephemeris cache,
// falling through to the wrapped site on a miss.
type Cached struct {
	Site
	cache EphemerisCache
	// noon is how far local mean noon at the site lies ahead of noon UTC.
	noon time.Duration
}

// NewCached wraps s. A nil cache disables caching. longitude is the site's
// east longitude in degrees; nights are keyed from local mean noon there.
func NewCached(s Site, c EphemerisCache, longitude float64) *Cached {
	return &Cached{
		Site:  s,
		cache: c,
		noon:  time.Duration(longitude / 360 * float64(24*time.Hour)),
	}
}

// nightKey names the night containing t, counted from local mean noon.
func (c *Cached) nightKey(t time.Time) string {
	return t.UTC().Add(c.noon - 12*time.Hour).Format("2006-01-02")
}

// SunriseTwilightBegin returns the first morning twilight after t. A cached
// answer is only trusted when it lies within the next 24 hours.
func (c *Cached) SunriseTwilightBegin(ctx context.Context, t time.Time) (time.Time, error) {
	if c.cache == nil {
		return c.Site.SunriseTwilightBegin(ctx, t)
	}
	key := c.nightKey(t)
	if at, ok := c.cache.GetTwilight(ctx, key); ok && at.After(t) && at.Sub(t) <= 24*time.Hour {
		return at, nil
	}
	at, err := c.Site.SunriseTwilightBegin(ctx, t)
	if err != nil {
		return time.Time{}, err
	}
	_ = c.cache.SetTwilight(ctx, key, at)
	return at, nil
}

func (c *Cached) MoonPhase(ctx context.Context, t time.Time) (float64, error) {
	if c.cache == nil {
		return c.Site.MoonPhase(ctx, t)
	}
	if phase, ok := c.cache.GetMoonPhase(ctx, t); ok {
		return phase, nil
	}
	phase, err := c.Site.MoonPhase(ctx, t)
	if err != nil {
		return 0, err
	}
	_ = c.cache.SetMoonPhase(ctx, t, phase)
	return phase, nil
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package site binds the observatory's site and ephemeris service. Coordinate
// transforms, sidereal time and the moon ephemeris are computed by that service;
// this package only carries requests to it.
package site

import (
	"context"
	"math"
	"time"
)

// RaDec is an equatorial position in degrees.
type RaDec struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// AltAz is a horizontal position in degrees.
type AltAz struct {
	Alt float64 `json:"alt"`
	Az  float64 `json:"az"`
}

// Site is the site/ephemeris collaborator.
type Site interface {
	// Now is the site's notion of the current instant.
	Now(ctx context.Context) (time.Time, error)
	// LST returns the local sidereal time at t, in radians.
	LST(ctx context.Context, t time.Time) (float64, error)
	RaDecToAltAz(ctx context.Context, pos RaDec, lst float64) (AltAz, error)
	AltAzToRaDec(ctx context.Context, pos AltAz, lst float64) (RaDec, error)
	MoonPosition(ctx context.Context, t time.Time) (AltAz, error)
	// MoonPhase returns the illuminated fraction of the moon, 0 to 1.
	MoonPhase(ctx context.Context, t time.Time) (float64, error)
	// SunriseTwilightBegin returns the morning twilight boundary of the night containing t.
	SunriseTwilightBegin(ctx context.Context, t time.Time) (time.Time, error)
}

// SeeingMonitor reports the current seeing in arcseconds. Negative values mean
// the monitor has no valid measurement.
type SeeingMonitor interface {
	Seeing(ctx context.Context) (float64, error)
}

const (
	mjdUnixEpoch  = 40587.0
	secondsPerDay = 86400.0
)

// MJD converts t to a modified Julian date.
func MJD(t time.Time) float64 {
	return mjdUnixEpoch + float64(t.UnixNano())/1e9/secondsPerDay
}

// FromMJD converts a modified Julian date to a UTC time, rounded to the microsecond.
func FromMJD(mjd float64) time.Time {
	seconds := (mjd - mjdUnixEpoch) * secondsPerDay
	whole := math.Floor(seconds)
	nanos := math.Round((seconds-whole)*1e6) * 1e3
	return time.Unix(int64(whole), int64(nanos)).UTC()
}

// Separation returns the angular distance between two equatorial positions in degrees.
func Separation(a, b RaDec) float64 {
	ra1, dec1 := a.RA*math.Pi/180, a.Dec*math.Pi/180
	ra2, dec2 := b.RA*math.Pi/180, b.Dec*math.Pi/180

	// haversine keeps precision for small separations
	sinDDec := math.Sin((dec2 - dec1) / 2)
	sinDRA := math.Sin((ra2 - ra1) / 2)
	h := sinDDec*sinDDec + math.Cos(dec1)*math.Cos(dec2)*sinDRA*sinDRA
	h = math.Min(1, math.Max(0, h))
	return 2 * math.Asin(math.Sqrt(h)) * 180 / math.Pi
}

// Airmass returns the plane-parallel airmass for an altitude in degrees,
// 1/cos(90°-alt). It returns +Inf at or below the horizon.
func Airmass(alt float64) float64 {
	if alt <= 0 {
		return math.Inf(1)
	}
	return 1 / math.Cos((90-alt)*math.Pi/180)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package site

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/eventbus"
)

// Request bodies on the observatory bus. Instants travel as MJD.
type (
	timeRequest struct {
		MJD float64 `json:"mjd"`
	}
	raDecRequest struct {
		RaDec
		LST float64 `json:"lst"`
	}
	altAzRequest struct {
		AltAz
		LST float64 `json:"lst"`
	}
)

// Remote reaches the site service by request-reply on <subject>.<method>.
type Remote struct {
	conn    eventbus.Requester
	subject string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRemote binds the site service published under subject.
func NewRemote(conn eventbus.Requester, subject string, timeout time.Duration, logger zerolog.Logger) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		conn:    conn,
		subject: subject,
		timeout: timeout,
		logger:  logger.With().Str("component", "site").Str("subject", subject).Logger(),
	}
}

func (r *Remote) Now(ctx context.Context) (time.Time, error) {
	var mjd float64
	if err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".mjd", struct{}{}, &mjd); err != nil {
		return time.Time{}, err
	}
	return FromMJD(mjd), nil
}

func (r *Remote) LST(ctx context.Context, t time.Time) (float64, error) {
	var lst float64
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".lst", timeRequest{MJD: MJD(t)}, &lst)
	return lst, err
}

func (r *Remote) RaDecToAltAz(ctx context.Context, pos RaDec, lst float64) (AltAz, error) {
	var out AltAz
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".radec_to_altaz", raDecRequest{RaDec: pos, LST: lst}, &out)
	return out, err
}

func (r *Remote) AltAzToRaDec(ctx context.Context, pos AltAz, lst float64) (RaDec, error) {
	var out RaDec
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".altaz_to_radec", altAzRequest{AltAz: pos, LST: lst}, &out)
	return out, err
}

func (r *Remote) MoonPosition(ctx context.Context, t time.Time) (AltAz, error) {
	var out AltAz
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".moonpos", timeRequest{MJD: MJD(t)}, &out)
	return out, err
}

func (r *Remote) MoonPhase(ctx context.Context, t time.Time) (float64, error) {
	var phase float64
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".moonphase", timeRequest{MJD: MJD(t)}, &phase)
	return phase, err
}

func (r *Remote) SunriseTwilightBegin(ctx context.Context, t time.Time) (time.Time, error) {
	var mjd float64
	if err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".sunrise_twilight_begin", timeRequest{MJD: MJD(t)}, &mjd); err != nil {
		return time.Time{}, err
	}
	return FromMJD(mjd), nil
}

// RemoteSeeing reads a seeing monitor published on the bus.
type RemoteSeeing struct {
	conn    eventbus.Requester
	subject string
	timeout time.Duration
}

// NewRemoteSeeing binds the seeing monitor published under subject.
func NewRemoteSeeing(conn eventbus.Requester, subject string, timeout time.Duration) *RemoteSeeing {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteSeeing{conn: conn, subject: subject, timeout: timeout}
}

func (s *RemoteSeeing) Seeing(ctx context.Context) (float64, error) {
	var seeing float64
	err := eventbus.Request(ctx, s.conn, s.timeout, s.subject+".seeing", struct{}{}, &seeing)
	return seeing, err
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package feasibility

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/site"
	"github.com/friendsincode/robobs/internal/site/sitetest"
)

var night = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

func candidate() models.Candidate {
	return models.Candidate{
		Program: models.Program{
			Name:   "m42-r",
			Target: models.Target{Name: "M42", RA: 83.8, Dec: -5.4},
			BlockPar: models.BlockPar{
				MinAirmass:    1,
				MaxAirmass:    2,
				MinMoonBright: 0,
				MaxMoonBright: 50,
				MinMoonDist:   10,
				MaxSeeing:     2,
			},
		},
		Duration: 10 * time.Minute,
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(f *sitetest.Fake, c *models.Candidate, opts *[]Option)
		duration   time.Duration
		extra      []Checker
		wantOK     bool
		wantReason string
	}{
		{name: "clear sky", wantOK: true},
		{
			name:       "low altitude",
			setup:      func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) { f.Altitude = constAlt(20) },
			wantReason: ReasonAirmass,
		},
		{
			name:       "below horizon",
			setup:      func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) { f.Altitude = constAlt(-5) },
			wantReason: ReasonAirmass,
		},
		{
			name:   "airmass upper bound inclusive",
			setup:  func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) { f.Altitude = constAlt(30) },
			wantOK: true,
		},
		{
			name:     "fits before twilight",
			setup:    func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) { f.Twilight = night.Add(time.Hour) },
			duration: 59 * time.Minute,
			wantOK:   true,
		},
		{
			name:       "runs into twilight",
			setup:      func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) { f.Twilight = night.Add(time.Hour) },
			duration:   61 * time.Minute,
			wantReason: ReasonTwilight,
		},
		{
			name: "bright moon up",
			setup: func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) {
				f.MoonAlt, f.Phase = 10, 0.9
			},
			wantReason: ReasonMoonBrightness,
		},
		{
			name: "bright moon down",
			setup: func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) {
				f.MoonAlt, f.Phase = -1, 0.9
			},
			wantOK: true,
		},
		{
			name: "too dark for a bright time program",
			setup: func(f *sitetest.Fake, c *models.Candidate, _ *[]Option) {
				f.MoonAlt, f.Phase = 40, 0.05
				c.Program.BlockPar.MinMoonBright, c.Program.BlockPar.MaxMoonBright = 50, 100
			},
			wantReason: ReasonMoonBrightness,
		},
		{
			name: "moon too close",
			setup: func(f *sitetest.Fake, _ *models.Candidate, _ *[]Option) {
				f.MoonRaDec = site.RaDec{RA: 85, Dec: -3}
			},
			wantReason: ReasonMoonDistance,
		},
		{
			name: "poor seeing",
			setup: func(_ *sitetest.Fake, _ *models.Candidate, opts *[]Option) {
				*opts = append(*opts, WithSeeing(sitetest.Seeing{Value: 2.5}))
			},
			wantReason: ReasonSeeing,
		},
		{
			name: "invalid seeing reading",
			setup: func(_ *sitetest.Fake, _ *models.Candidate, opts *[]Option) {
				*opts = append(*opts, WithSeeing(sitetest.Seeing{Value: -1}))
			},
			wantOK: true,
		},
		{
			name: "weather closed",
			setup: func(_ *sitetest.Fake, _ *models.Candidate, opts *[]Option) {
				*opts = append(*opts, WithWeather(reject("humidity 95%")))
			},
			wantReason: ReasonWeather,
		},
		{
			name:       "caller supplied check",
			extra:      []Checker{Pass, reject("operator hold")},
			wantReason: ReasonExternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sitetest.New(night)
			c := candidate()
			var opts []Option
			if tt.setup != nil {
				tt.setup(f, &c, &opts)
			}
			e := New(f, zerolog.Nop(), opts...)

			v, err := e.Evaluate(context.Background(), c, night, tt.duration, tt.extra...)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if v.OK != tt.wantOK {
				t.Fatalf("OK = %v (%s: %s), want %v", v.OK, v.Reason, v.Detail, tt.wantOK)
			}
			if v.Reason != tt.wantReason {
				t.Fatalf("reason = %q, want %q", v.Reason, tt.wantReason)
			}

			ok, err := e.Feasible(context.Background(), c, night, tt.duration, tt.extra...)
			if err != nil || ok != tt.wantOK {
				t.Fatalf("Feasible = %v, %v; want %v", ok, err, tt.wantOK)
			}
		})
	}
}

func TestEvaluateReportsValues(t *testing.T) {
	f := sitetest.New(night)
	f.Altitude = constAlt(30)
	f.MoonAlt, f.Phase = -10, 0.25

	v, err := New(f, zerolog.Nop()).Evaluate(context.Background(), candidate(), night, 0)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(v.Airmass-2) > 1e-9 {
		t.Errorf("airmass = %v, want 2", v.Airmass)
	}
	if v.MoonBrightness != 25 {
		t.Errorf("moon brightness = %v, want 25", v.MoonBrightness)
	}
	if v.MoonDistance <= 10 {
		t.Errorf("moon distance = %v", v.MoonDistance)
	}
	if !v.End.IsZero() {
		t.Errorf("end should be unset without a duration")
	}
}

func TestEvaluatePassesTimeToSite(t *testing.T) {
	f := sitetest.New(night)
	rise := night.Add(30 * time.Minute)
	f.Altitude = func(_ site.RaDec, at time.Time) float64 {
		if at.Before(rise) {
			return 10
		}
		return 50
	}
	e := New(f, zerolog.Nop())

	if ok, _ := e.Feasible(context.Background(), candidate(), night, 0); ok {
		t.Fatal("target should still be low")
	}
	if ok, _ := e.Feasible(context.Background(), candidate(), rise, 0); !ok {
		t.Fatal("target should be up")
	}
}

func TestCollaboratorErrorsAreNotRejections(t *testing.T) {
	boom := errors.New("site offline")

	f := sitetest.New(night)
	f.Err = boom
	if _, err := New(f, zerolog.Nop()).Feasible(context.Background(), candidate(), night, time.Minute); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	seeing := WithSeeing(sitetest.Seeing{Err: boom})
	if _, err := New(sitetest.New(night), zerolog.Nop(), seeing).Feasible(context.Background(), candidate(), night, 0); !errors.Is(err, boom) {
		t.Fatalf("seeing err = %v, want %v", err, boom)
	}
}

func constAlt(alt float64) func(site.RaDec, time.Time) float64 {
	return func(site.RaDec, time.Time) float64 { return alt }
}

func reject(detail string) Checker {
	return CheckerFunc(func(context.Context, models.Candidate, time.Time) (bool, string, error) {
		return false, detail, nil
	})
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package strategy

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/site"
)

// Identifiers of the built-in strategies.
const (
	EDF        = "edf"
	Timed      = "timed"
	Higher     = "higher"
	RoundRobin = "roundrobin"
	FairShare  = "fairshare"
)

// Deps are the collaborators the built-in strategies are constructed with.
type Deps struct {
	Site    site.Site
	History History
	// TimedGrace is how late a timed program may still start.
	TimedGrace time.Duration
	Logger     zerolog.Logger
}

// Builtin returns a registry with every built-in strategy.
func Builtin(deps Deps) *Registry {
	r := NewRegistry(deps.Logger)
	r.Register(NewEDF(deps.History))
	r.Register(NewTimed(deps.History, deps.TimedGrace))
	if deps.Site != nil {
		r.Register(NewHigher(deps.Site, deps.History))
	}
	if deps.History != nil {
		r.Register(NewRoundRobin(deps.History))
		r.Register(NewFairShare(deps.History))
	}
	return r
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api serves the HTTP control API: observers read state, plans and the
// observing log; operators switch automatic scheduling and reset the scheduler.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/auth"
	"github.com/friendsincode/robobs/internal/controller"
	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/logbuffer"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/obslog"
	"github.com/friendsincode/robobs/internal/store"
)

// Controller is the part of the controller the API drives.
type Controller interface {
	Snapshot() controller.State
	Start(ctx context.Context)
	Stop(ctx context.Context)
	Wake(ctx context.Context) error
	ResetScheduler(ctx context.Context) error
}

// Planner previews the next selection without side effects.
type Planner interface {
	Preview(ctx context.Context, at time.Time) (*models.Candidate, error)
}

// Programs reads the program store.
type Programs interface {
	Tiers(ctx context.Context) ([]int, error)
	List(ctx context.Context, filters store.ListFilters) ([]models.Program, int64, error)
	Get(ctx context.Context, id string) (*models.Program, error)
}

// Logs reads the observing log.
type Logs interface {
	Query(ctx context.Context, filters obslog.QueryFilters) ([]models.ObservingLog, int64, error)
}

// Deps wires the API.
type Deps struct {
	Controller Controller
	Planner    Planner
	Programs   Programs
	Logs       Logs
	Executor   executor.Executor
	Clock      controller.Clock
	Strategies func() []string
	Bus        *events.Bus
	LogBuffer  *logbuffer.Buffer
	JWTSecret  []byte
	// IsLeader reports whether this instance drives the telescope. Nil means always.
	IsLeader func() bool
	Logger   zerolog.Logger
}

// API exposes HTTP handlers.
type API struct {
	ctrl       Controller
	planner    Planner
	programs   Programs
	logs       Logs
	exec       executor.Executor
	clock      controller.Clock
	strategies func() []string
	bus        *events.Bus
	logBuffer  *logbuffer.Buffer
	jwtSecret  []byte
	isLeader   func() bool
	logger     zerolog.Logger
}

// New creates the API router wrapper.
func New(deps Deps) *API {
	isLeader := deps.IsLeader
	if isLeader == nil {
		isLeader = func() bool { return true }
	}
	return &API{
		ctrl:       deps.Controller,
		planner:    deps.Planner,
		programs:   deps.Programs,
		logs:       deps.Logs,
		exec:       deps.Executor,
		clock:      deps.Clock,
		strategies: deps.Strategies,
		bus:        deps.Bus,
		logBuffer:  deps.LogBuffer,
		jwtSecret:  deps.JWTSecret,
		isLeader:   isLeader,
		logger:     deps.Logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers the API under /api/v1.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Group(func(pr chi.Router) {
			pr.Use(auth.Middleware(a.jwtSecret))
			pr.Use(auth.RequireRole(auth.RoleObserver))

			pr.Get("/state", a.handleState)
			pr.Get("/plan", a.handlePlan)
			pr.Get("/reshedule", a.handlePlan)
			pr.Get("/tiers", a.handleTiers)
			pr.Get("/strategies", a.handleStrategies)
			pr.Route("/programs", func(r chi.Router) {
				r.Get("/", a.handleProgramsList)
				r.Get("/{programID}", a.handleProgramsGet)
			})
			pr.Get("/logs", a.handleLogs)
			pr.Get("/events", a.handleEvents)

			pr.Group(func(op chi.Router) {
				op.Use(auth.RequireRole(auth.RoleOperator))
				op.Post("/start", a.handleStart)
				op.Post("/stop", a.handleStop)
				op.Post("/wake", a.handleWake)
				op.Post("/reset", a.handleReset)
				op.Get("/debug/log", a.handleDebugLog)
			})
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "leader": a.isLeader()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

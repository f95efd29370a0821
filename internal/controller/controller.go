/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package controller drives the telescope: it watches the executor, asks the
// scheduler for the next program when the executor runs dry and keeps track of
// the program currently executing.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/strategy"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// DefaultBackoff is how long the controller waits after a second consecutive
// empty selection before waking the executor again.
const DefaultBackoff = 5 * time.Minute

var (
	// ErrAttached is returned when Attach is called twice.
	ErrAttached = errors.New("controller already attached")
	// ErrNotAttached is returned by Detach without a prior Attach.
	ErrNotAttached = errors.New("controller not attached")
)

// RobState is the operator's switch for automatic scheduling.
type RobState string

const (
	RobOn  RobState = "ON"
	RobOff RobState = "OFF"
)

// Scheduler picks the next program to execute.
type Scheduler interface {
	Reshedule(ctx context.Context, now time.Time) (*models.Candidate, error)
}

// ProgramStore marks programs done.
type ProgramStore interface {
	MarkFinished(ctx context.Context, id string) (bool, error)
}

// ObservingLog appends observing log entries.
type ObservingLog interface {
	Log(ctx context.Context, entry *models.ObservingLog) error
}

// Clock is the site's notion of now.
type Clock interface {
	Now(ctx context.Context) (time.Time, error)
}

// State is a snapshot of the controller.
type State struct {
	RobState         RobState          `json:"rob_state"`
	Current          *models.Candidate `json:"-"`
	CurrentName      string            `json:"current,omitempty"`
	CurrentID        string            `json:"current_id,omitempty"`
	NoProgramOnQueue bool              `json:"no_program_on_queue"`
	Attached         bool              `json:"attached"`
}

// Config tunes the control loop.
type Config struct {
	ParkAlt float64
	ParkAz  float64
	Backoff time.Duration
}

// DefaultConfig parks at alt 88, az 89 and backs off for five minutes.
func DefaultConfig() Config {
	return Config{ParkAlt: 88, ParkAz: 89, Backoff: DefaultBackoff}
}

// Deps are the controller's collaborators.
type Deps struct {
	Executor   executor.Executor
	Scheduler  Scheduler
	Store      ProgramStore
	Log        ObservingLog
	Strategies *strategy.Registry
	Clock      Clock
	Bus        events.Publisher
	Logger     zerolog.Logger
}

// Controller reacts to executor notifications.
type Controller struct {
	exec       executor.Executor
	scheduler  Scheduler
	store      ProgramStore
	obslog     ObservingLog
	strategies *strategy.Registry
	clock      Clock
	bus        events.Publisher
	logger     zerolog.Logger
	config     Config

	// sleep waits for the backoff. Replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error

	// handlerMu serializes executor callbacks; mu guards the fields below it.
	handlerMu sync.Mutex

	mu          sync.Mutex
	rob         RobState
	current     *models.Candidate
	noProgram   bool
	unsubscribe func()
}

// New creates a controller with rob state OFF.
func New(cfg Config, deps Deps) *Controller {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	return &Controller{
		exec:       deps.Executor,
		scheduler:  deps.Scheduler,
		store:      deps.Store,
		obslog:     deps.Log,
		strategies: deps.Strategies,
		clock:      deps.Clock,
		bus:        deps.Bus,
		logger:     deps.Logger.With().Str("component", "robobs").Logger(),
		config:     cfg,
		sleep:      sleepContext,
		rob:        RobOff,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Attach subscribes the controller to the executor's notifications.
func (c *Controller) Attach() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unsubscribe != nil {
		return ErrAttached
	}
	cancel, err := c.exec.Subscribe(c.Handlers())
	if err != nil {
		return fmt.Errorf("subscribe to executor: %w", err)
	}
	c.unsubscribe = cancel
	c.logger.Info().Msg("attached to executor")
	return nil
}

// Detach stops receiving executor notifications. A backoff in progress is
// interrupted when the executor cancels the subscription context.
func (c *Controller) Detach() error {
	c.mu.Lock()
	cancel := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if cancel == nil {
		return ErrNotAttached
	}
	cancel()
	c.logger.Info().Msg("detached from executor")
	return nil
}

// Handlers returns the executor callbacks bound to this controller.
func (c *Controller) Handlers() executor.Handlers {
	return executor.Handlers{
		ProgramBegin:    c.OnProgramBegin,
		ProgramComplete: c.OnProgramComplete,
		ActionBegin:     c.OnActionBegin,
		ActionComplete:  c.OnActionComplete,
		StateChanged:    c.OnStateChanged,
	}
}

// Start switches automatic scheduling on. The executor is not touched.
func (c *Controller) Start(ctx context.Context) {
	c.setRob(ctx, RobOn)
}

// Stop switches automatic scheduling off. Programs already queued keep running.
func (c *Controller) Stop(ctx context.Context) {
	c.setRob(ctx, RobOff)
}

func (c *Controller) setRob(ctx context.Context, rob RobState) {
	c.mu.Lock()
	changed := c.rob != rob
	c.rob = rob
	c.mu.Unlock()

	if rob == RobOn {
		telemetry.ControllerRobState.Set(1)
	} else {
		telemetry.ControllerRobState.Set(0)
	}
	if !changed {
		return
	}
	c.logger.Info().Str("rob_state", string(rob)).Msg("switching rob state")
	c.publish(events.EventRobState, events.Payload{"on": rob == RobOn, "time": c.now(ctx)})
}

// Wake asks the executor to start processing its queue.
func (c *Controller) Wake(ctx context.Context) error {
	if err := c.exec.Wake(ctx); err != nil {
		return c.fail("wake", err)
	}
	return nil
}

// ResetScheduler queues the instrument reset program. A tracked program is
// marked finished as superseded.
func (c *Controller) ResetScheduler(ctx context.Context) error {
	if err := c.exec.Enqueue(ctx, executor.Reset()); err != nil {
		return c.fail("reset", err)
	}
	telemetry.ProgramsDispatchedTotal.WithLabelValues("reset").Inc()

	c.mu.Lock()
	current := c.current
	c.current = nil
	c.mu.Unlock()

	payload := events.Payload{"time": c.now(ctx)}
	if current != nil {
		payload["program"] = current.Program.Name
		if _, err := c.store.MarkFinished(ctx, current.Program.ID); err != nil {
			c.logger.Error().Err(err).Str("program", current.Program.Name).Msg("failed to finish superseded program")
			telemetry.ControllerErrorsTotal.WithLabelValues("finish").Inc()
		} else {
			c.logger.Info().Str("program", current.Program.Name).Msg("program superseded by reset")
		}
	}
	c.publish(events.EventReset, payload)
	return nil
}

// Snapshot returns the current controller state.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		RobState:         c.rob,
		NoProgramOnQueue: c.noProgram,
		Attached:         c.unsubscribe != nil,
	}
	if c.current != nil {
		cur := *c.current
		s.Current = &cur
		s.CurrentName = cur.Program.Name
		s.CurrentID = cur.Program.ID
	}
	return s
}

// now reads the site clock, falling back to the host clock for log stamps.
func (c *Controller) now(ctx context.Context) time.Time {
	if c.clock == nil {
		return time.Now().UTC()
	}
	t, err := c.clock.Now(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("site clock unavailable, using host clock")
		return time.Now().UTC()
	}
	return t
}

func (c *Controller) publish(t events.EventType, payload events.Payload) {
	if c.bus != nil {
		c.bus.Publish(t, payload)
	}
}

func (c *Controller) fail(stage string, err error) error {
	telemetry.ControllerErrorsTotal.WithLabelValues(stage).Inc()
	c.logger.Error().Err(err).Str("stage", stage).Msg("controller step failed")
	return fmt.Errorf("%s: %w", stage, err)
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// Local is an in-process sequencer that simulates the instruments. Once its
// queue drains it goes IDLE then OFF and waits to be woken.
type Local struct {
	logger  zerolog.Logger
	bus     events.Publisher
	pace    float64
	outcome func(Program) (Status, string)
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time

	mu      sync.Mutex
	runCtx  context.Context
	state   State
	queue   []Program
	abort   chan struct{}
	subs    map[int]subscription
	nextSub int

	wake chan struct{}
}

type subscription struct {
	ctx context.Context
	h   Handlers
}

// LocalOption configures a Local sequencer.
type LocalOption func(*Local)

// WithPace makes exposures take pace times their exposure time. Zero runs
// them instantly.
func WithPace(pace float64) LocalOption {
	return func(l *Local) { l.pace = pace }
}

// WithOutcome decides the completion status of each program that was not aborted.
func WithOutcome(fn func(Program) (Status, string)) LocalOption {
	return func(l *Local) { l.outcome = fn }
}

// WithPublisher mirrors state changes onto an event bus.
func WithPublisher(p events.Publisher) LocalOption {
	return func(l *Local) { l.bus = p }
}

// WithClock replaces the wall clock used to hold timed programs until their
// slew time.
func WithClock(now func() time.Time, after func(time.Duration) <-chan time.Time) LocalOption {
	return func(l *Local) { l.now, l.after = now, after }
}

// NewLocal creates a sequencer in the OFF state.
func NewLocal(logger zerolog.Logger, opts ...LocalOption) *Local {
	l := &Local{
		logger: logger.With().Str("component", "executor").Str("backend", "local").Logger(),
		state:  StateOff,
		subs:   make(map[int]subscription),
		wake:   make(chan struct{}, 1),
		now:    time.Now,
		after:  time.After,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) State(context.Context) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, nil
}

// Pending returns the programs waiting in the queue.
func (l *Local) Pending() []Program {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Program(nil), l.queue...)
}

func (l *Local) Enqueue(_ context.Context, p Program) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == StateShutdown {
		return ErrShutdown
	}
	l.queue = append(l.queue, p)
	l.logger.Debug().Str("program", p.Name).Int("queued", len(l.queue)).Msg("program enqueued")
	return nil
}

func (l *Local) Start(ctx context.Context) error { return l.Wake(ctx) }

func (l *Local) Wake(context.Context) error {
	l.mu.Lock()
	shutdown := l.state == StateShutdown
	l.mu.Unlock()
	if shutdown {
		return ErrShutdown
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Local) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.abort != nil {
		close(l.abort)
		l.abort = nil
		l.logger.Info().Msg("aborting running program")
	}
	return nil
}

func (l *Local) Subscribe(h Handlers) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = subscription{ctx: ctx, h: h}
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			cancel()
		})
	}, nil
}

// Run processes the queue each time the sequencer is started or woken, until
// ctx is cancelled.
func (l *Local) Run(ctx context.Context) error {
	l.mu.Lock()
	l.runCtx = ctx
	l.mu.Unlock()

	l.logger.Info().Msg("sequencer loop started")
	for {
		select {
		case <-ctx.Done():
			l.transition(StateShutdown)
			l.logger.Info().Msg("sequencer loop stopped")
			return ctx.Err()
		case <-l.wake:
			if ctx.Err() != nil {
				continue
			}
			l.cycle(ctx)
		}
	}
}

func (l *Local) cycle(ctx context.Context) {
	if err := l.transition(StateStart); err != nil {
		l.logger.Debug().Err(err).Msg("ignoring wake")
		return
	}

	for {
		p, abort, ok := l.pop()
		if !ok {
			break
		}
		if err := l.transition(StateBusy); err != nil {
			l.logger.Error().Err(err).Msg("cannot run program")
			return
		}
		if status := l.execute(ctx, p, abort); status == StatusAborted {
			_ = l.transition(StateStop)
			_ = l.transition(StateOff)
			return
		}
		_ = l.transition(StateIdle)
	}

	if l.current() == StateStart {
		_ = l.transition(StateIdle)
	}
	_ = l.transition(StateOff)
}

func (l *Local) pop() (Program, chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return Program{}, nil, false
	}
	p := l.queue[0]
	l.queue = l.queue[1:]
	l.abort = make(chan struct{})
	return p, l.abort, true
}

func (l *Local) execute(ctx context.Context, p Program, abort chan struct{}) Status {
	log := l.logger.With().Str("program", p.Name).Logger()
	if !l.waitForSlew(ctx, p, abort) {
		l.mu.Lock()
		l.abort = nil
		l.mu.Unlock()
		message := "aborted before slew time"
		log.Info().Msg(message)
		l.emit(func(ctx context.Context, h Handlers) error {
			if h.ProgramComplete == nil {
				return nil
			}
			return h.ProgramComplete(ctx, p, StatusAborted, message)
		})
		return StatusAborted
	}
	log.Info().Int("actions", len(p.Actions)).Msg("program begin")
	l.emit(func(ctx context.Context, h Handlers) error {
		if h.ProgramBegin == nil {
			return nil
		}
		return h.ProgramBegin(ctx, p)
	})

	status, message := StatusOK, ""
	for i, a := range p.Actions {
		desc := a.String()
		l.emit(func(ctx context.Context, h Handlers) error {
			if h.ActionBegin == nil {
				return nil
			}
			return h.ActionBegin(ctx, a, desc)
		})

		actionStatus, actionMsg := StatusOK, ""
		if err := l.simulate(ctx, a, abort); err != nil {
			actionStatus, actionMsg = StatusAborted, err.Error()
			status, message = StatusAborted, fmt.Sprintf("aborted at action %d (%s)", i+1, desc)
		}
		l.emit(func(ctx context.Context, h Handlers) error {
			if h.ActionComplete == nil {
				return nil
			}
			return h.ActionComplete(ctx, a, actionStatus, actionMsg)
		})
		if status == StatusAborted {
			break
		}
	}

	l.mu.Lock()
	l.abort = nil
	l.mu.Unlock()

	if status == StatusOK && l.outcome != nil {
		status, message = l.outcome(p)
	}
	log.Info().Str("status", string(status)).Str("message", message).Msg("program complete")
	l.emit(func(ctx context.Context, h Handlers) error {
		if h.ProgramComplete == nil {
			return nil
		}
		return h.ProgramComplete(ctx, p, status, message)
	})
	return status
}

// waitForSlew holds a timed program until its slew time. It reports false
// when Stop or ctx cut the wait short.
func (l *Local) waitForSlew(ctx context.Context, p Program, abort chan struct{}) bool {
	if p.SlewAt == nil || p.SlewAt.IsZero() {
		return true
	}
	d := p.SlewAt.Sub(l.now())
	if d <= 0 {
		return true
	}
	l.logger.Info().Str("program", p.Name).Time("slew_at", *p.SlewAt).Dur("wait", d).Msg("waiting for slew time")
	select {
	case <-l.after(d):
		return true
	case <-abort:
		return false
	case <-ctx.Done():
		return false
	}
}

func (l *Local) simulate(ctx context.Context, a Action, abort chan struct{}) error {
	var d time.Duration
	if a.Type == models.ActionExpose && l.pace > 0 {
		d = time.Duration(a.ExpTime * float64(a.Frames) * l.pace * float64(time.Second))
	}

	select {
	case <-abort:
		return fmt.Errorf("stopped")
	default:
	}
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-abort:
		return fmt.Errorf("stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Local) current() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Local) transition(to State) error {
	l.mu.Lock()
	from := l.state
	if !ValidTransition(from, to) {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	l.state = to
	l.mu.Unlock()

	l.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("state transition")
	for _, s := range AllStates {
		v := 0.0
		if s == to {
			v = 1
		}
		telemetry.ExecutorState.WithLabelValues(string(s)).Set(v)
	}
	if l.bus != nil {
		l.bus.Publish(events.EventExecutorState, events.Payload{"state": string(to), "previous": string(from)})
	}

	l.emit(func(ctx context.Context, h Handlers) error {
		if h.StateChanged == nil {
			return nil
		}
		return h.StateChanged(ctx, to, from)
	})
	return nil
}

// emit calls fn for every subscriber in turn, outside the lock. A handler's
// context ends when its subscription is cancelled or when Run's context does.
func (l *Local) emit(fn func(ctx context.Context, h Handlers) error) {
	l.mu.Lock()
	runCtx := l.runCtx
	subs := make([]subscription, 0, len(l.subs))
	for _, s := range l.subs {
		subs = append(subs, s)
	}
	l.mu.Unlock()

	for _, s := range subs {
		if s.ctx.Err() != nil {
			continue
		}
		if err := l.call(runCtx, s, fn); err != nil {
			l.logger.Warn().Err(err).Msg("handler failed")
		}
	}
}

func (l *Local) call(runCtx context.Context, s subscription, fn func(ctx context.Context, h Handlers) error) error {
	if runCtx == nil {
		return fn(s.ctx, s.h)
	}
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()
	return fn(ctx, s.h)
}

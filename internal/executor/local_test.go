/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/models"
)

func TestValidTransition(t *testing.T) {
	tests := []struct {
		from, to State
		valid    bool
	}{
		{StateOff, StateStart, true},
		{StateOff, StateBusy, false},
		{StateStart, StateIdle, true},
		{StateStart, StateBusy, true},
		{StateIdle, StateOff, true},
		{StateIdle, StateBusy, true},
		{StateBusy, StateIdle, true},
		{StateBusy, StateOff, false},
		{StateBusy, StateStop, true},
		{StateStop, StateOff, true},
		{StateStop, StateBusy, false},
		{StateShutdown, StateStart, false},
		{StateIdle, StateShutdown, true},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			if got := ValidTransition(tt.from, tt.to); got != tt.valid {
				t.Errorf("ValidTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
			}
		})
	}
}

// recorder collects notifications as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
	done   chan struct{}
}

func newRecorder() *recorder { return &recorder{done: make(chan struct{}, 16)} }

func (r *recorder) add(s string) {
	r.mu.Lock()
	r.events = append(r.events, s)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) handlers() Handlers {
	return Handlers{
		ProgramBegin: func(_ context.Context, p Program) error {
			r.add("begin " + p.Name)
			return nil
		},
		ProgramComplete: func(_ context.Context, p Program, status Status, _ string) error {
			r.add("complete " + p.Name + " " + string(status))
			return nil
		},
		ActionBegin: func(_ context.Context, a Action, _ string) error {
			r.add("action " + string(a.Type))
			return nil
		},
		StateChanged: func(_ context.Context, newState, oldState State) error {
			r.add(string(oldState) + ">" + string(newState))
			if oldState == StateIdle && newState == StateOff {
				r.done <- struct{}{}
			}
			return nil
		},
	}
}

func (r *recorder) waitOff(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sequencer never went off; events %v", r.snapshot())
	}
}

func runLocal(t *testing.T, l *Local) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func testProgram(name string) Program {
	return FromCandidate(models.Candidate{Program: models.Program{
		ID:       "src-" + name,
		Name:     name,
		Target:   models.Target{RA: 10, Dec: 20},
		ObsBlock: models.ObsBlock{Actions: []models.Action{{Type: models.ActionPoint}, {Type: models.ActionExpose, ExpTime: 1, Frames: 1}}},
	}})
}

func TestLocalRunsQueueThenGoesOff(t *testing.T) {
	bus := events.NewBus()
	stateSub := bus.Subscribe(events.EventExecutorState)
	l := NewLocal(zerolog.Nop(), WithPublisher(bus))
	rec := newRecorder()
	cancel, _ := l.Subscribe(rec.handlers())
	defer cancel()
	runLocal(t, l)

	ctx := context.Background()
	_ = l.Enqueue(ctx, testProgram("a"))
	_ = l.Enqueue(ctx, testProgram("b"))
	if err := l.Start(ctx); err != nil {
		t.Fatal(err)
	}
	rec.waitOff(t)

	want := []string{
		"OFF>START", "START>BUSY", "begin a", "action point", "action expose", "complete a OK", "BUSY>IDLE",
		"IDLE>BUSY", "begin b", "action point", "action expose", "complete b OK", "BUSY>IDLE", "IDLE>OFF",
	}
	got := rec.snapshot()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("events\n got %v\nwant %v", got, want)
	}
	if s, _ := l.State(ctx); s != StateOff {
		t.Fatalf("state = %s", s)
	}
	if len(stateSub) == 0 {
		t.Fatal("state changes not published")
	}
}

func TestLocalWakeFromHandler(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	rec := newRecorder()
	runLocal(t, l)

	enqueued := false
	h := rec.handlers()
	stateChanged := h.StateChanged
	h.StateChanged = func(ctx context.Context, newState, oldState State) error {
		if oldState == StateIdle && newState == StateOff && !enqueued {
			enqueued = true
			_ = l.Enqueue(ctx, testProgram("refill"))
			_ = l.Wake(ctx)
		}
		return stateChanged(ctx, newState, oldState)
	}
	cancel, _ := l.Subscribe(h)
	defer cancel()

	_ = l.Start(context.Background())
	rec.waitOff(t)
	rec.waitOff(t)

	got := strings.Join(rec.snapshot(), ",")
	if !strings.Contains(got, "complete refill OK") {
		t.Fatalf("refill not run: %s", got)
	}
}

func TestLocalOutcome(t *testing.T) {
	l := NewLocal(zerolog.Nop(), WithOutcome(func(p Program) (Status, string) {
		if p.Name == "bad" {
			return StatusError, "camera timeout"
		}
		return StatusOK, ""
	}))
	rec := newRecorder()
	cancel, _ := l.Subscribe(rec.handlers())
	defer cancel()
	runLocal(t, l)

	_ = l.Enqueue(context.Background(), testProgram("bad"))
	_ = l.Start(context.Background())
	rec.waitOff(t)

	if got := strings.Join(rec.snapshot(), ","); !strings.Contains(got, "complete bad ERROR") {
		t.Fatalf("events %s", got)
	}
}

func TestLocalStopAbortsProgram(t *testing.T) {
	l := NewLocal(zerolog.Nop(), WithPace(100))
	rec := newRecorder()
	h := rec.handlers()
	stopped := make(chan struct{})
	h.StateChanged = func(_ context.Context, newState, oldState State) error {
		rec.add(string(oldState) + ">" + string(newState))
		if newState == StateOff {
			close(stopped)
		}
		return nil
	}
	h.ActionBegin = func(ctx context.Context, a Action, _ string) error {
		if a.Type == models.ActionExpose {
			go func() { _ = l.Stop(ctx) }()
		}
		return nil
	}
	cancel, _ := l.Subscribe(h)
	defer cancel()
	runLocal(t, l)

	_ = l.Enqueue(context.Background(), testProgram("long"))
	_ = l.Start(context.Background())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("not stopped; events %v", rec.snapshot())
	}
	got := strings.Join(rec.snapshot(), ",")
	if !strings.Contains(got, "complete long ABORTED") || !strings.Contains(got, "BUSY>STOP,STOP>OFF") {
		t.Fatalf("events %s", got)
	}
}

func TestLocalWaitsForSlewTime(t *testing.T) {
	now := time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)
	waited := make(chan time.Duration, 1)
	fire := make(chan time.Time)
	l := NewLocal(zerolog.Nop(), WithClock(
		func() time.Time { return now },
		func(d time.Duration) <-chan time.Time {
			waited <- d
			return fire
		},
	))
	rec := newRecorder()
	cancel, _ := l.Subscribe(rec.handlers())
	defer cancel()
	runLocal(t, l)

	p := testProgram("timed")
	at := now.Add(time.Hour)
	p.SlewAt = &at
	_ = l.Enqueue(context.Background(), p)
	_ = l.Start(context.Background())

	select {
	case d := <-waited:
		if d != time.Hour {
			t.Fatalf("wait = %v, want 1h", d)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sequencer never waited; events %v", rec.snapshot())
	}
	if got := strings.Join(rec.snapshot(), ","); strings.Contains(got, "begin timed") {
		t.Fatalf("program began before its slew time: %s", got)
	}

	fire <- at
	rec.waitOff(t)
	if got := strings.Join(rec.snapshot(), ","); !strings.Contains(got, "START>BUSY,begin timed") || !strings.Contains(got, "complete timed OK") {
		t.Fatalf("events %s", got)
	}
}

func TestLocalSlewTimeInPastRunsImmediately(t *testing.T) {
	l := NewLocal(zerolog.Nop(), WithClock(time.Now, func(time.Duration) <-chan time.Time {
		t.Error("waited for a slew time already passed")
		return nil
	}))
	rec := newRecorder()
	cancel, _ := l.Subscribe(rec.handlers())
	defer cancel()
	runLocal(t, l)

	p := testProgram("late")
	at := time.Now().Add(-time.Minute)
	p.SlewAt = &at
	_ = l.Enqueue(context.Background(), p)
	_ = l.Start(context.Background())
	rec.waitOff(t)

	if got := strings.Join(rec.snapshot(), ","); !strings.Contains(got, "complete late OK") {
		t.Fatalf("events %s", got)
	}
}

func TestLocalStopDuringSlewWait(t *testing.T) {
	waiting := make(chan struct{})
	l := NewLocal(zerolog.Nop(), WithClock(time.Now, func(time.Duration) <-chan time.Time {
		close(waiting)
		return nil
	}))
	rec := newRecorder()
	h := rec.handlers()
	stopped := make(chan struct{})
	h.StateChanged = func(_ context.Context, newState, oldState State) error {
		rec.add(string(oldState) + ">" + string(newState))
		if newState == StateOff {
			close(stopped)
		}
		return nil
	}
	cancel, _ := l.Subscribe(h)
	defer cancel()
	runLocal(t, l)

	p := testProgram("tonight")
	at := time.Now().Add(6 * time.Hour)
	p.SlewAt = &at
	_ = l.Enqueue(context.Background(), p)
	_ = l.Start(context.Background())

	select {
	case <-waiting:
	case <-time.After(2 * time.Second):
		t.Fatalf("sequencer never waited; events %v", rec.snapshot())
	}
	_ = l.Stop(context.Background())

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("not stopped; events %v", rec.snapshot())
	}
	got := strings.Join(rec.snapshot(), ",")
	if strings.Contains(got, "begin tonight") {
		t.Fatalf("aborted program began: %s", got)
	}
	if !strings.Contains(got, "complete tonight ABORTED") || !strings.Contains(got, "BUSY>STOP,STOP>OFF") {
		t.Fatalf("events %s", got)
	}
}

func TestLocalHandlerContextEndsWithRun(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	blocked := make(chan struct{})
	released := make(chan error, 1)
	cancel, _ := l.Subscribe(Handlers{
		StateChanged: func(ctx context.Context, newState, oldState State) error {
			if oldState == StateIdle && newState == StateOff {
				close(blocked)
				<-ctx.Done()
				released <- ctx.Err()
			}
			return nil
		},
	})
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = l.Run(ctx)
		close(done)
	}()

	_ = l.Start(context.Background())
	select {
	case <-blocked:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
	stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return while a handler was blocked on its context")
	}
	if err := <-released; err == nil {
		t.Fatal("handler context not cancelled")
	}
}

func TestLocalUnsubscribe(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	rec := newRecorder()
	cancel, _ := l.Subscribe(rec.handlers())
	cancel()
	cancel()

	_ = l.transition(StateStart)
	if len(rec.snapshot()) != 0 {
		t.Fatalf("unsubscribed handler called: %v", rec.snapshot())
	}
}

func TestFromCandidate(t *testing.T) {
	alt, az := 45.0, 120.0
	c := models.Candidate{Program: models.Program{
		ID:       "p1",
		Name:     "ngc253",
		PI:       "ana",
		Priority: 2,
		Target:   models.Target{RA: 11.9, Dec: -25.3},
		ObsBlock: models.ObsBlock{Actions: []models.Action{
			{Type: models.ActionPoint},
			{Type: models.ActionAutoFocus, FocusStart: 100, FocusEnd: 200, FocusStep: 10},
			{Type: models.ActionExpose, ExpTime: 60, Frames: 3, Filter: "V", ImageType: "OBJECT"},
			{Type: models.ActionPoint, Alt: &alt, Az: &az},
		}},
	}}

	p := FromCandidate(c)
	if p.SourceID != "p1" || p.Name != "ngc253" || p.Priority != 2 || p.ID == "" {
		t.Fatalf("program = %+v", p)
	}
	if len(p.Actions) != 4 {
		t.Fatalf("actions = %d", len(p.Actions))
	}
	if p.Actions[0].RA == nil || *p.Actions[0].RA != 11.9 || *p.Actions[0].Dec != -25.3 {
		t.Fatalf("first point should aim at the target: %+v", p.Actions[0])
	}
	if p.Actions[3].RA != nil || *p.Actions[3].Alt != 45 {
		t.Fatalf("explicit alt/az point changed: %+v", p.Actions[3])
	}
	if p.Duration() != 3*time.Minute {
		t.Fatalf("duration = %v", p.Duration())
	}
	if p.SlewAt != nil {
		t.Fatalf("untimed program got slew time %v", p.SlewAt)
	}

	at := time.Date(2026, 3, 14, 23, 30, 0, 0, time.FixedZone("HST", -10*3600))
	c.Program.SlewAt = &at
	p = FromCandidate(c)
	if p.SlewAt == nil || !p.SlewAt.Equal(at) || p.SlewAt.Location() != time.UTC {
		t.Fatalf("slew time = %v, want %v in UTC", p.SlewAt, at)
	}
}

func TestGeneratedPrograms(t *testing.T) {
	park := Park(88, 89)
	if park.Name != SafetyProgram || len(park.Actions) != 1 || *park.Actions[0].Alt != 88 || *park.Actions[0].Az != 89 {
		t.Fatalf("park = %+v", park)
	}

	reset := Reset()
	a := reset.Actions[0]
	if reset.Name != ResetProgram || a.ImageType != "BIAS" || a.Shutter != "CLOSE" || a.ExpTime != 0 || a.Frames != 1 {
		t.Fatalf("reset = %+v", reset)
	}
	if a.Filename != "RESET-$DATE-$TIME" {
		t.Fatalf("filename = %q", a.Filename)
	}
}

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/feasibility"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/obslog"
	"github.com/friendsincode/robobs/internal/scheduler"
	"github.com/friendsincode/robobs/internal/site/sitetest"
	"github.com/friendsincode/robobs/internal/store"
	"github.com/friendsincode/robobs/internal/strategy"
)

func openStore(t *testing.T) (*gorm.DB, *store.Store) {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatal(err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb, store.New(gdb, zerolog.Nop())
}

func catalogProgram(name string, tier int) models.Program {
	return models.Program{
		Name:     name,
		PI:       "ana",
		Priority: tier,
		Target:   models.Target{Name: "target-" + name, RA: 10, Dec: -20},
		BlockPar: models.BlockPar{Name: "default", MinAirmass: 1, MaxAirmass: 2, SchedAlgorithm: strategy.EDF},
		ObsBlock: models.ObsBlock{
			Name: "block-" + name,
			Actions: []models.Action{
				{Type: models.ActionPoint},
				{Type: models.ActionExpose, ExpTime: 30, Frames: 2, Filter: "R"},
			},
		},
	}
}

// TestNightRunsCatalogThenParks drives a simulated sequencer through a whole
// catalog: every program runs once, then the telescope parks and the
// controller backs off.
func TestNightRunsCatalogThenParks(t *testing.T) {
	gdb, st := openStore(t)
	ctx := context.Background()
	if _, err := st.Import(ctx, []models.Program{catalogProgram("m31", 0), catalogProgram("m42", 1)}); err != nil {
		t.Fatal(err)
	}

	fake := sitetest.New(now)
	bus := events.NewBus()
	reg := strategy.Builtin(strategy.Deps{Site: fake, History: st, Logger: zerolog.Nop()})
	sched := scheduler.New(st, reg, feasibility.New(fake, zerolog.Nop()), 0, zerolog.Nop())
	local := executor.NewLocal(zerolog.Nop())

	c := New(DefaultConfig(), Deps{
		Executor:   local,
		Scheduler:  sched,
		Store:      st,
		Log:        obslog.NewService(gdb, bus, zerolog.Nop()),
		Strategies: reg,
		Clock:      fake,
		Bus:        bus,
		Logger:     zerolog.Nop(),
	})
	backedOff := make(chan struct{})
	c.sleep = func(context.Context, time.Duration) error {
		close(backedOff)
		return context.Canceled
	}
	dispatched := bus.Subscribe(events.EventProgramDispatched)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = local.Run(runCtx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := c.Attach(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Detach() }()
	c.Start(ctx)
	if err := local.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-backedOff:
	case <-time.After(5 * time.Second):
		t.Fatalf("controller never backed off; state %+v", c.Snapshot())
	}

	var order []string
	for len(dispatched) > 0 {
		order = append(order, (<-dispatched)["program"].(string))
	}
	if len(order) != 2 || order[0] != "m31" || order[1] != "m42" {
		t.Fatalf("dispatch order = %v", order)
	}

	tiers, err := st.Tiers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiers) != 0 {
		t.Fatalf("unfinished tiers left: %v", tiers)
	}

	s := c.Snapshot()
	if !s.NoProgramOnQueue || s.Current != nil || s.RobState != RobOn {
		t.Fatalf("final state = %+v", s)
	}

	var started int64
	gdb.Model(&models.ObservingLog{}).Where("action = ?", models.LogProgramStarted).Count(&started)
	// two catalog programs plus the park
	if started != 3 {
		t.Fatalf("program started entries = %d", started)
	}
}

// TestTimedProgramBeginsAtSlewTime dispatches a fixed-time program ahead of
// its slew time; the sequencer must hold it until then.
func TestTimedProgramBeginsAtSlewTime(t *testing.T) {
	gdb, st := openStore(t)
	ctx := context.Background()
	slewAt := now.Add(30 * time.Minute)
	p := catalogProgram("occultation", 0)
	p.BlockPar.SchedAlgorithm = strategy.Timed
	p.SlewAt = &slewAt
	if _, err := st.Import(ctx, []models.Program{p}); err != nil {
		t.Fatal(err)
	}

	fake := sitetest.New(now)
	bus := events.NewBus()
	reg := strategy.Builtin(strategy.Deps{Site: fake, History: st, Logger: zerolog.Nop()})
	sched := scheduler.New(st, reg, feasibility.New(fake, zerolog.Nop()), 0, zerolog.Nop())
	clock := func() time.Time {
		at, _ := fake.Now(ctx)
		return at
	}
	var waited time.Duration
	local := executor.NewLocal(zerolog.Nop(), executor.WithClock(clock, func(d time.Duration) <-chan time.Time {
		waited += d
		fake.SetClock(clock().Add(d))
		fired := make(chan time.Time, 1)
		fired <- clock()
		return fired
	}))

	c := New(DefaultConfig(), Deps{
		Executor:   local,
		Scheduler:  sched,
		Store:      st,
		Log:        obslog.NewService(gdb, bus, zerolog.Nop()),
		Strategies: reg,
		Clock:      fake,
		Bus:        bus,
		Logger:     zerolog.Nop(),
	})
	backedOff := make(chan struct{})
	c.sleep = func(context.Context, time.Duration) error {
		close(backedOff)
		return context.Canceled
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		_ = local.Run(runCtx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	if err := c.Attach(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Detach() }()
	c.Start(ctx)
	if err := local.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-backedOff:
	case <-time.After(5 * time.Second):
		t.Fatalf("controller never backed off; state %+v", c.Snapshot())
	}

	if waited != 30*time.Minute {
		t.Fatalf("sequencer waited %v before the timed program, want 30m", waited)
	}
	var started models.ObservingLog
	if err := gdb.Where("action = ? AND name = ?", models.LogProgramStarted, "occultation").First(&started).Error; err != nil {
		t.Fatalf("program never started: %v", err)
	}
	if started.Time.Before(slewAt) {
		t.Fatalf("program started at %v, before its slew time %v", started.Time, slewAt)
	}
}

// TestShutdownInterruptsBackoff parks with an empty catalog and lets the
// controller enter a long backoff, then checks that either detaching the
// controller or stopping the sequencer loop cuts the backoff short.
func TestShutdownInterruptsBackoff(t *testing.T) {
	tests := []struct {
		name     string
		shutdown func(c *Controller, cancelRun context.CancelFunc)
	}{
		{"detach", func(c *Controller, _ context.CancelFunc) { _ = c.Detach() }},
		{"cancel run", func(_ *Controller, cancelRun context.CancelFunc) { cancelRun() }},
		{"detach then cancel run", func(c *Controller, cancelRun context.CancelFunc) {
			_ = c.Detach()
			cancelRun()
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gdb, st := openStore(t)
			ctx := context.Background()
			fake := sitetest.New(now)
			bus := events.NewBus()
			reg := strategy.Builtin(strategy.Deps{Site: fake, History: st, Logger: zerolog.Nop()})
			local := executor.NewLocal(zerolog.Nop())

			cfg := DefaultConfig()
			cfg.Backoff = time.Hour
			c := New(cfg, Deps{
				Executor:   local,
				Scheduler:  scheduler.New(st, reg, feasibility.New(fake, zerolog.Nop()), 0, zerolog.Nop()),
				Store:      st,
				Log:        obslog.NewService(gdb, bus, zerolog.Nop()),
				Strategies: reg,
				Clock:      fake,
				Bus:        bus,
				Logger:     zerolog.Nop(),
			})
			backoff := bus.Subscribe(events.EventBackoff)

			runCtx, cancelRun := context.WithCancel(ctx)
			defer cancelRun()
			done := make(chan struct{})
			go func() {
				_ = local.Run(runCtx)
				close(done)
			}()

			if err := c.Attach(); err != nil {
				t.Fatal(err)
			}
			defer func() { _ = c.Detach() }()
			c.Start(ctx)
			if err := local.Start(ctx); err != nil {
				t.Fatal(err)
			}

			select {
			case <-backoff:
			case <-time.After(5 * time.Second):
				t.Fatalf("controller never backed off; state %+v", c.Snapshot())
			}

			tt.shutdown(c, cancelRun)

			deadline := time.Now().Add(2 * time.Second)
			for !c.handlerMu.TryLock() {
				if time.Now().After(deadline) {
					t.Fatal("backoff still holding the controller")
				}
				time.Sleep(5 * time.Millisecond)
			}
			c.handlerMu.Unlock()

			cancelRun()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("sequencer loop did not stop")
			}
		})
	}
}

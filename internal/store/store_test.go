/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/robobs/internal/db"
	"github.com/friendsincode/robobs/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return New(gdb, zerolog.Nop())
}

func program(name string, tier int, slewAt *time.Time) models.Program {
	return models.Program{
		Name:     name,
		PI:       "pi-" + name,
		Priority: tier,
		SlewAt:   slewAt,
		Target:   models.Target{Name: "target-" + name, RA: 10, Dec: -20},
		BlockPar: models.BlockPar{Name: "default", MinAirmass: 1, MaxAirmass: 2, SchedAlgorithm: "edf"},
		ObsBlock: models.ObsBlock{
			Name: "block-" + name,
			Actions: []models.Action{
				{Type: models.ActionPoint},
				{Type: models.ActionExpose, ExpTime: 30, Frames: 2, Filter: "R"},
			},
		},
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestTiersAreDistinctAndAscending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Import(ctx, []models.Program{
		program("a", 3, nil),
		program("b", 1, nil),
		program("c", 3, nil),
		program("d", 2, nil),
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	tiers, err := s.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	want := []int{1, 2, 3}
	if len(tiers) != len(want) {
		t.Fatalf("tiers = %v, want %v", tiers, want)
	}
	for i := range want {
		if tiers[i] != want[i] {
			t.Fatalf("tiers = %v, want %v", tiers, want)
		}
	}
}

func TestUnfinishedOrdersUnsetSlewFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	if _, err := s.Import(ctx, []models.Program{
		program("late", 1, ptr(base.Add(2*time.Hour))),
		program("asap", 1, nil),
		program("early", 1, ptr(base.Add(time.Hour))),
		program("other-tier", 2, nil),
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	got, err := s.Unfinished(ctx, 1)
	if err != nil {
		t.Fatalf("unfinished: %v", err)
	}
	names := make([]string, len(got))
	for i, p := range got {
		names[i] = p.Name
	}
	want := []string{"asap", "early", "late"}
	if len(names) != len(want) {
		t.Fatalf("names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v, want %v", names, want)
		}
	}

	first := got[0]
	if first.Target.Name != "target-asap" {
		t.Errorf("target not preloaded: %+v", first.Target)
	}
	if first.BlockPar.SchedAlgorithm != "edf" {
		t.Errorf("block parameters not preloaded: %+v", first.BlockPar)
	}
	if len(first.ObsBlock.Actions) != 2 || first.ObsBlock.Actions[0].Type != models.ActionPoint {
		t.Errorf("actions not preloaded in order: %+v", first.ObsBlock.Actions)
	}
	if d := first.ObsBlock.ExposureTime(); d != time.Minute {
		t.Errorf("exposure time = %v, want 1m", d)
	}
}

func TestMarkFinishedIsMonotonic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	programs := []models.Program{program("a", 1, nil)}
	if _, err := s.Import(ctx, programs); err != nil {
		t.Fatalf("import: %v", err)
	}
	id := programs[0].ID

	changed, err := s.MarkFinished(ctx, id)
	if err != nil || !changed {
		t.Fatalf("first MarkFinished = (%v, %v), want (true, nil)", changed, err)
	}
	changed, err = s.MarkFinished(ctx, id)
	if err != nil || changed {
		t.Fatalf("second MarkFinished = (%v, %v), want (false, nil)", changed, err)
	}

	if _, err := s.MarkFinished(ctx, "missing"); !errors.Is(err, ErrProgramNotFound) {
		t.Fatalf("MarkFinished(missing) err = %v, want ErrProgramNotFound", err)
	}

	tiers, err := s.Tiers(ctx)
	if err != nil {
		t.Fatalf("tiers: %v", err)
	}
	if len(tiers) != 0 {
		t.Fatalf("finished program still listed in tiers %v", tiers)
	}
}

func TestAdvanceSlewAtSkipsFinishedPrograms(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	programs := []models.Program{program("a", 1, ptr(base.Add(time.Hour)))}
	if _, err := s.Import(ctx, programs); err != nil {
		t.Fatalf("import: %v", err)
	}
	id := programs[0].ID

	if err := s.AdvanceSlewAt(ctx, id, base); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SlewAt == nil || !got.SlewAt.Equal(base) {
		t.Fatalf("slew_at = %v, want %v", got.SlewAt, base)
	}

	if _, err := s.MarkFinished(ctx, id); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if err := s.AdvanceSlewAt(ctx, id, base.Add(-time.Hour)); !errors.Is(err, ErrProgramNotFound) {
		t.Fatalf("advance finished err = %v, want ErrProgramNotFound", err)
	}
}

func TestImportRejectsNegativeTier(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Import(context.Background(), []models.Program{program("bad", -1, nil)})
	if !errors.Is(err, ErrNegativeTier) {
		t.Fatalf("err = %v, want ErrNegativeTier", err)
	}
}

func TestImportSharesNamedCatalogRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := program("a", 1, nil)
	b := program("b", 1, nil)
	b.Target = a.Target
	b.ObsBlock = a.ObsBlock
	if _, err := s.Import(ctx, []models.Program{a, b}); err != nil {
		t.Fatalf("import: %v", err)
	}

	var targets, blocks, pars int64
	s.DB().Model(&models.Target{}).Count(&targets)
	s.DB().Model(&models.ObsBlock{}).Count(&blocks)
	s.DB().Model(&models.BlockPar{}).Count(&pars)
	if targets != 1 || blocks != 1 || pars != 1 {
		t.Fatalf("rows = targets %d, blocks %d, pars %d; want 1 each", targets, blocks, pars)
	}

	// Reimporting a block by name replaces its actions.
	c := program("c", 2, nil)
	c.ObsBlock = models.ObsBlock{Name: a.ObsBlock.Name, Actions: []models.Action{{Type: models.ActionExpose, ExpTime: 5, Frames: 1}}}
	if _, err := s.Import(ctx, []models.Program{c}); err != nil {
		t.Fatalf("reimport: %v", err)
	}
	var actions int64
	s.DB().Model(&models.Action{}).Count(&actions)
	if actions != 1 {
		t.Fatalf("actions = %d, want 1 after replacing the block", actions)
	}
}

func TestHistoryQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)

	recs := []models.ObservationRecord{
		{Strategy: "roundrobin", TargetID: "t1", PI: "ana", ObservedAt: base, Exposure: 60},
		{Strategy: "roundrobin", TargetID: "t1", PI: "ana", ObservedAt: base.Add(time.Hour), Exposure: 30},
		{Strategy: "roundrobin", TargetID: "t2", PI: "bo", ObservedAt: base.Add(30 * time.Minute), Exposure: 10},
		{Strategy: "fairshare", TargetID: "t3", PI: "ana", ObservedAt: base, Exposure: 500},
	}
	for i := range recs {
		if err := s.RecordObservation(ctx, &recs[i]); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	last, err := s.LastObserved(ctx, "roundrobin", []string{"t1", "t2", "t9"})
	if err != nil {
		t.Fatalf("last observed: %v", err)
	}
	if !last["t1"].Equal(base.Add(time.Hour)) {
		t.Errorf("t1 last = %v, want %v", last["t1"], base.Add(time.Hour))
	}
	if _, ok := last["t9"]; ok {
		t.Error("unobserved target should be absent")
	}

	totals, err := s.ExposureByPI(ctx, "roundrobin")
	if err != nil {
		t.Fatalf("exposure by pi: %v", err)
	}
	if totals["ana"] != 90 || totals["bo"] != 10 {
		t.Fatalf("totals = %v, want ana=90 bo=10", totals)
	}
}

func TestResetFinishedClearsFlagsAndHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	programs := []models.Program{program("a", 1, nil), program("b", 1, nil)}
	if _, err := s.Import(ctx, programs); err != nil {
		t.Fatalf("import: %v", err)
	}
	for _, p := range programs {
		if _, err := s.MarkFinished(ctx, p.ID); err != nil {
			t.Fatalf("finish: %v", err)
		}
	}
	if err := s.RecordObservation(ctx, &models.ObservationRecord{Strategy: "edf", TargetID: "x"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	n, err := s.ResetFinished(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 2 {
		t.Fatalf("reset count = %d, want 2", n)
	}

	pending, err := s.Unfinished(ctx, 1)
	if err != nil {
		t.Fatalf("unfinished: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}

	var recs int64
	s.DB().Model(&models.ObservationRecord{}).Count(&recs)
	if recs != 0 {
		t.Fatalf("history rows = %d, want 0", recs)
	}
}

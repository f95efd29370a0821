package obslog

import (
	"bytes"
	"context"
	"encoding/csv"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/storage"
)

func TestExportWritesNightAsCSV(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	night := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	entries := []models.ObservingLog{
		{Time: night.Add(21 * time.Hour), Name: "m31", TargetID: "t1", Priority: 0, Action: models.LogProgramStarted},
		{Time: night.Add(22 * time.Hour), Name: "m31", TargetID: "t1", Priority: 0, Action: "ROBOBS: Program End with status OK()"},
		{Time: night.Add(40 * time.Hour), Name: "later", Action: "x"},
	}
	for i := range entries {
		if err := svc.Log(ctx, &entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	store := storage.NewFilesystem(t.TempDir(), zerolog.Nop())
	location, err := svc.Export(ctx, store, night)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if location != store.URL("obslog/2026-05-10.csv") {
		t.Fatalf("location = %s", location)
	}

	data, err := store.Get(ctx, ExportKey(night))
	if err != nil {
		t.Fatal(err)
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %v", rows)
	}
	if rows[0][0] != "time" || rows[1][1] != "m31" || rows[1][4] != models.LogProgramStarted {
		t.Fatalf("rows = %v", rows)
	}
	if rows[1][0] != "2026-05-10T21:00:00Z" {
		t.Fatalf("time = %s", rows[1][0])
	}
}

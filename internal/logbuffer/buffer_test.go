package logbuffer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestBufferKeepsNewest(t *testing.T) {
	b := New(3)
	for i, msg := range []string{"a", "b", "c", "d"} {
		b.Add(Entry{Message: msg, Timestamp: time.Unix(int64(i), 0)})
	}

	all := b.All()
	if len(all) != 3 || all[0].Message != "b" || all[2].Message != "d" {
		t.Fatalf("entries = %+v", all)
	}
	if s := b.Stats(); s.Capacity != 3 || s.Count != 3 {
		t.Fatalf("stats = %+v", s)
	}
}

func TestWriterCapturesZerolog(t *testing.T) {
	b := New(10)
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(NewWriter(b, nil)).With().Timestamp().Logger()

	logger.Info().Str("component", "robobs").Str("program_id", "p1").Msg("program dispatched")
	logger.Debug().Str("component", "scheduler").Int("tier", 2).Msg("tier empty")
	logger.Warn().Str("component", "robobs").Msg("no program on queue")

	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{"all", Query{}, []string{"program dispatched", "tier empty", "no program on queue"}},
		{"component", Query{Component: "robobs"}, []string{"program dispatched", "no program on queue"}},
		{"level", Query{Level: "debug"}, []string{"tier empty"}},
		{"program", Query{ProgramID: "p1"}, []string{"program dispatched"}},
		{"search", Query{Search: "QUEUE"}, []string{"no program on queue"}},
		{"newest limited", Query{Newest: true, Limit: 2}, []string{"no program on queue", "tier empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.Find(tt.q)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d entries, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Message != tt.want[i] {
					t.Fatalf("entry %d = %q, want %q", i, got[i].Message, tt.want[i])
				}
			}
		})
	}

	first := b.All()[0]
	if first.Timestamp.IsZero() || first.Fields["program_id"] != "p1" || first.Component != "robobs" {
		t.Fatalf("parsed entry = %+v", first)
	}
}

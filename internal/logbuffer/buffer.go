/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer keeps the most recent structured log lines in memory so an
// operator can read the controller's debug log over the API.
package logbuffer

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"
)

// DefaultCapacity is the number of lines kept when New is given zero.
const DefaultCapacity = 5000

// Entry is one captured log line.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Buffer is a ring of log entries, safe for concurrent use.
type Buffer struct {
	mu      sync.RWMutex
	entries []Entry
	head    int
	count   int
}

// New creates a buffer holding up to capacity entries.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Add appends an entry, overwriting the oldest when full.
func (b *Buffer) Add(entry Entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % len(b.entries)
	if b.count < len(b.entries) {
		b.count++
	}
}

// All returns the entries oldest first.
func (b *Buffer) All() []Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Entry, b.count)
	start := 0
	if b.count == len(b.entries) {
		start = b.head
	}
	for i := range out {
		out[i] = b.entries[(start+i)%len(b.entries)]
	}
	return out
}

// Query selects entries. Zero fields match everything.
type Query struct {
	Level     string
	Component string
	ProgramID string // matches the program_id field
	Search    string // case-insensitive, message and string fields
	Since     time.Time
	Limit     int
	// Newest returns the most recent entries first.
	Newest bool
}

func (q Query) match(e Entry) bool {
	if q.Level != "" && e.Level != q.Level {
		return false
	}
	if q.Component != "" && e.Component != q.Component {
		return false
	}
	if q.ProgramID != "" {
		if id, _ := e.Fields["program_id"].(string); id != q.ProgramID {
			return false
		}
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if q.Search == "" {
		return true
	}
	needle := strings.ToLower(q.Search)
	if strings.Contains(strings.ToLower(e.Message), needle) {
		return true
	}
	for _, v := range e.Fields {
		if s, ok := v.(string); ok && strings.Contains(strings.ToLower(s), needle) {
			return true
		}
	}
	return false
}

// Find returns the entries matching q.
func (b *Buffer) Find(q Query) []Entry {
	all := b.All()
	out := make([]Entry, 0, len(all))
	for _, e := range all {
		if q.match(e) {
			out = append(out, e)
		}
	}
	if q.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

// Stats summarises the buffer.
type Stats struct {
	Capacity int            `json:"capacity"`
	Count    int            `json:"count"`
	Levels   map[string]int `json:"levels"`
}

func (b *Buffer) Stats() Stats {
	all := b.All()
	stats := Stats{Capacity: len(b.entries), Count: len(all), Levels: map[string]int{}}
	for _, e := range all {
		stats.Levels[e.Level]++
	}
	return stats
}

// Writer is a zerolog output that captures JSON lines into a Buffer.
type Writer struct {
	buffer *Buffer
	next   io.Writer
}

// NewWriter captures into buffer and forwards to next when it is not nil.
func NewWriter(buffer *Buffer, next io.Writer) *Writer {
	return &Writer{buffer: buffer, next: next}
}

func (w *Writer) Write(p []byte) (int, error) {
	var raw map[string]any
	if err := json.Unmarshal(p, &raw); err == nil {
		w.buffer.Add(parse(raw))
	}
	if w.next != nil {
		return w.next.Write(p)
	}
	return len(p), nil
}

func parse(raw map[string]any) Entry {
	e := Entry{Timestamp: time.Now().UTC()}
	if v, ok := raw["level"].(string); ok {
		e.Level = v
		delete(raw, "level")
	}
	if v, ok := raw["message"].(string); ok {
		e.Message = v
		delete(raw, "message")
	}
	if v, ok := raw["component"].(string); ok {
		e.Component = v
		delete(raw, "component")
	}
	switch ts := raw["time"].(type) {
	case float64:
		e.Timestamp = time.Unix(int64(ts), 0).UTC()
	case string:
		if t, err := time.Parse(time.RFC3339, ts); err == nil {
			e.Timestamp = t.UTC()
		}
	}
	delete(raw, "time")
	if len(raw) > 0 {
		e.Fields = raw
	}
	return e
}

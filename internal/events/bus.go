/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package events

import "sync"

// EventType enumerates event categories.
type EventType string

const (
	// Controller
	EventRobState          EventType = "controller.rob_state"
	EventProgramDispatched EventType = "controller.dispatched"
	EventPark              EventType = "controller.park"
	EventBackoff           EventType = "controller.backoff"
	EventReset             EventType = "controller.reset"

	// Executor notifications relayed by the controller
	EventExecutorState   EventType = "executor.state"
	EventProgramBegin    EventType = "program.begin"
	EventProgramComplete EventType = "program.complete"
	EventActionBegin     EventType = "action.begin"
	EventActionComplete  EventType = "action.complete"

	// Scheduler
	EventSlewAdvanced EventType = "scheduler.slew_advanced"

	// Catalog
	EventCatalogImported EventType = "catalog.imported"
	EventCatalogReset    EventType = "catalog.reset"
)

// All lists every event type, e.g. for stream endpoints that forward everything.
var All = []EventType{
	EventRobState, EventProgramDispatched, EventPark, EventBackoff, EventReset,
	EventExecutorState, EventProgramBegin, EventProgramComplete, EventActionBegin, EventActionComplete,
	EventSlewAdvanced, EventCatalogImported, EventCatalogReset,
}

// Payload generic event payload.
type Payload map[string]any

// Subscriber receives event payloads.
type Subscriber chan Payload

// Publisher is the publishing half of a bus. Components that only emit depend on it.
type Publisher interface {
	Publish(eventType EventType, payload Payload)
}

// Bus implements a simple in-process pubsub.
type Bus struct {
	mu   sync.RWMutex
	subs map[EventType][]Subscriber
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[EventType][]Subscriber)}
}

// Subscribe registers a subscriber for event type.
func (b *Bus) Subscribe(eventType EventType) Subscriber {
	ch := make(Subscriber, 16)
	b.mu.Lock()
	b.subs[eventType] = append(b.subs[eventType], ch)
	b.mu.Unlock()
	return ch
}

// Publish sends payload to subscribers. Slow subscribers miss events rather than block the sender.
func (b *Bus) Publish(eventType EventType, payload Payload) {
	b.mu.RLock()
	subs := append([]Subscriber(nil), b.subs[eventType]...)
	b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- payload:
		default:
		}
	}
}

// Unsubscribe removes the subscriber and closes it.
func (b *Bus) Unsubscribe(eventType EventType, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subs[eventType]
	for i, candidate := range subs {
		if candidate == sub {
			subs = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	b.subs[eventType] = subs
}

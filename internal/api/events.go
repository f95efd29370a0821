/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/telemetry"
)

type streamEvent struct {
	Type    events.EventType `json:"type"`
	Payload events.Payload   `json:"payload,omitempty"`
}

// handleEvents streams bus events over a websocket. ?types= narrows the stream
// to a comma separated list; the default is every event type.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.All
	}

	// the client never sends; CloseRead handles pings and the close handshake
	ctx := conn.CloseRead(r.Context())
	stream := a.subscribe(ctx, eventTypes)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := wsjson.Write(ctx, conn, streamEvent{Type: "ping"}); err != nil {
				a.logger.Debug().Err(err).Msg("websocket ping failed")
				return
			}
		case ev := <-stream:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, ev)
			cancel()
			if err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

// subscribe fans the requested event types into one channel until ctx is done.
func (a *API) subscribe(ctx context.Context, eventTypes []events.EventType) <-chan streamEvent {
	out := make(chan streamEvent, 16)
	for _, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		go func(eventType events.EventType, sub events.Subscriber) {
			defer a.bus.Unsubscribe(eventType, sub)
			for {
				select {
				case <-ctx.Done():
					return
				case payload, ok := <-sub:
					if !ok {
						return
					}
					select {
					case out <- streamEvent{Type: eventType, Payload: payload}:
					case <-ctx.Done():
						return
					}
				}
			}
		}(eventType, sub)
	}
	return out
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}

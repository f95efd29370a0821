/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/eventbus"
)

// ServeConn is the part of a NATS connection Serve needs.
type ServeConn interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subj string, data []byte) error
}

// Serve exposes exec on subject so a Remote can drive it, until ctx is done.
func Serve(ctx context.Context, conn ServeConn, subject string, exec Executor, logger zerolog.Logger) error {
	logger = logger.With().Str("component", "executor-bridge").Str("subject", subject).Logger()

	reply := func(msg *nats.Msg, result any, err error) {
		if msg.Reply == "" {
			return
		}
		if pubErr := conn.Publish(msg.Reply, eventbus.EncodeReply(result, err)); pubErr != nil {
			logger.Warn().Err(pubErr).Msg("reply failed")
		}
	}

	routes := map[string]func(*nats.Msg){
		".state": func(msg *nats.Msg) {
			s, err := exec.State(ctx)
			reply(msg, s, err)
		},
		".enqueue": func(msg *nats.Msg) {
			var p Program
			if err := json.Unmarshal(msg.Data, &p); err != nil {
				reply(msg, nil, fmt.Errorf("decode program: %w", err))
				return
			}
			reply(msg, nil, exec.Enqueue(ctx, p))
		},
		".start": func(msg *nats.Msg) { reply(msg, nil, exec.Start(ctx)) },
		".stop":  func(msg *nats.Msg) { reply(msg, nil, exec.Stop(ctx)) },
		".wake":  func(msg *nats.Msg) { reply(msg, nil, exec.Wake(ctx)) },
	}

	publish := func(n Notification) error {
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		return conn.Publish(subject+".events."+n.Kind, data)
	}
	cancel, err := exec.Subscribe(Handlers{
		ProgramBegin: func(_ context.Context, p Program) error {
			return publish(Notification{Kind: KindProgramBegin, Program: &p})
		},
		ProgramComplete: func(_ context.Context, p Program, status Status, message string) error {
			return publish(Notification{Kind: KindProgramComplete, Program: &p, Status: status, Message: message})
		},
		ActionBegin: func(_ context.Context, a Action, message string) error {
			return publish(Notification{Kind: KindActionBegin, Action: &a, Message: message})
		},
		ActionComplete: func(_ context.Context, a Action, status Status, message string) error {
			return publish(Notification{Kind: KindActionComplete, Action: &a, Status: status, Message: message})
		},
		StateChanged: func(_ context.Context, newState, oldState State) error {
			return publish(Notification{Kind: KindStateChanged, New: newState, Old: oldState})
		},
	})
	if err != nil {
		return fmt.Errorf("subscribe executor: %w", err)
	}
	defer cancel()

	var subs []*nats.Subscription
	defer func() {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
	}()
	for suffix, handle := range routes {
		s, err := conn.Subscribe(subject+suffix, handle)
		if err != nil {
			return fmt.Errorf("subscribe %s%s: %w", subject, suffix, err)
		}
		subs = append(subs, s)
	}

	logger.Info().Msg("serving sequencer")
	<-ctx.Done()
	return ctx.Err()
}

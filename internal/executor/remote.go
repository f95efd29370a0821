/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/eventbus"
)

// Notification kinds published under <subject>.events.<kind>.
const (
	KindProgramBegin    = "program_begin"
	KindProgramComplete = "program_complete"
	KindActionBegin     = "action_begin"
	KindActionComplete  = "action_complete"
	KindStateChanged    = "state_changed"
)

// Notification is the wire form of an executor event.
type Notification struct {
	Kind    string   `json:"kind"`
	Program *Program `json:"program,omitempty"`
	Action  *Action  `json:"action,omitempty"`
	Status  Status   `json:"status,omitempty"`
	Message string   `json:"message,omitempty"`
	New     State    `json:"new,omitempty"`
	Old     State    `json:"old,omitempty"`
}

// Conn is the part of a NATS connection the remote executor uses.
type Conn interface {
	eventbus.Requester
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Remote drives a sequencer reachable over NATS.
type Remote struct {
	conn    Conn
	subject string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRemote binds the sequencer published under subject.
func NewRemote(conn Conn, subject string, timeout time.Duration, logger zerolog.Logger) *Remote {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Remote{
		conn:    conn,
		subject: subject,
		timeout: timeout,
		logger:  logger.With().Str("component", "executor").Str("backend", "nats").Str("subject", subject).Logger(),
	}
}

func (r *Remote) State(ctx context.Context) (State, error) {
	var s State
	err := eventbus.Request(ctx, r.conn, r.timeout, r.subject+".state", struct{}{}, &s)
	return s, err
}

func (r *Remote) Enqueue(ctx context.Context, p Program) error {
	return eventbus.Request(ctx, r.conn, r.timeout, r.subject+".enqueue", p, nil)
}

func (r *Remote) Start(ctx context.Context) error {
	return eventbus.Request(ctx, r.conn, r.timeout, r.subject+".start", struct{}{}, nil)
}

func (r *Remote) Stop(ctx context.Context) error {
	return eventbus.Request(ctx, r.conn, r.timeout, r.subject+".stop", struct{}{}, nil)
}

func (r *Remote) Wake(ctx context.Context) error {
	return eventbus.Request(ctx, r.conn, r.timeout, r.subject+".wake", struct{}{}, nil)
}

// Subscribe listens on <subject>.events.> and dispatches to h. NATS delivers
// the messages of one subscription in order, on one goroutine.
func (r *Remote) Subscribe(h Handlers) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := r.conn.Subscribe(r.subject+".events.>", func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		var n Notification
		if err := json.Unmarshal(msg.Data, &n); err != nil {
			r.logger.Warn().Err(err).Str("msg_subject", msg.Subject).Msg("undecodable notification")
			return
		}
		if err := dispatch(ctx, h, n); err != nil {
			r.logger.Warn().Err(err).Str("kind", n.Kind).Msg("handler failed")
		}
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s events: %w", r.subject, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := sub.Unsubscribe(); err != nil {
				r.logger.Debug().Err(err).Msg("unsubscribe")
			}
		})
	}, nil
}

func dispatch(ctx context.Context, h Handlers, n Notification) error {
	switch n.Kind {
	case KindProgramBegin:
		if h.ProgramBegin != nil && n.Program != nil {
			return h.ProgramBegin(ctx, *n.Program)
		}
	case KindProgramComplete:
		if h.ProgramComplete != nil && n.Program != nil {
			return h.ProgramComplete(ctx, *n.Program, n.Status, n.Message)
		}
	case KindActionBegin:
		if h.ActionBegin != nil && n.Action != nil {
			return h.ActionBegin(ctx, *n.Action, n.Message)
		}
	case KindActionComplete:
		if h.ActionComplete != nil && n.Action != nil {
			return h.ActionComplete(ctx, *n.Action, n.Status, n.Message)
		}
	case KindStateChanged:
		if h.StateChanged != nil {
			return h.StateChanged(ctx, n.New, n.Old)
		}
	default:
		return fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	return nil
}

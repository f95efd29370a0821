/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/friendsincode/robobs/internal/telemetry"
)

// ErrRemote wraps errors reported by the service on the other end of a request.
var ErrRemote = errors.New("remote service error")

// Requester is the request half of a NATS connection.
type Requester interface {
	RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error)
}

// Reply is the envelope every observatory service answers with.
type Reply struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Request sends req as JSON to subject and decodes the reply's result into out.
// out may be nil when the caller only needs the acknowledgement.
func Request(ctx context.Context, conn Requester, timeout time.Duration, subject string, req, out any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		telemetry.BusRequestsTotal.WithLabelValues(subject, "transport_error").Inc()
		return fmt.Errorf("request %s: %w", subject, err)
	}

	if err := DecodeReply(msg.Data, out); err != nil {
		telemetry.BusRequestsTotal.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("%s: %w", subject, err)
	}
	telemetry.BusRequestsTotal.WithLabelValues(subject, "ok").Inc()
	return nil
}

// DecodeReply unpacks a reply envelope.
func DecodeReply(data []byte, out any) error {
	var rep Reply
	if err := json.Unmarshal(data, &rep); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	if rep.Error != "" {
		return fmt.Errorf("%w: %s", ErrRemote, rep.Error)
	}
	if out == nil {
		return nil
	}
	if len(rep.Result) == 0 {
		return errors.New("decode reply: empty result")
	}
	if err := json.Unmarshal(rep.Result, out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// EncodeReply builds a reply envelope, the service side of DecodeReply.
func EncodeReply(result any, err error) []byte {
	rep := Reply{}
	if err != nil {
		rep.Error = err.Error()
	} else if result != nil {
		raw, mErr := json.Marshal(result)
		if mErr != nil {
			rep.Error = mErr.Error()
		} else {
			rep.Result = raw
		}
	}
	data, _ := json.Marshal(rep)
	return data
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
)

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL   string
	Token string
	Name  string

	// SubjectPrefix is prepended to event types when mirroring, e.g. "robobs.events".
	SubjectPrefix string

	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "robobs",
		SubjectPrefix: "robobs.events",
		MaxReconnects: -1, // Unlimited
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Connect opens the observatory bus connection shared by the site, executor and event mirror.
func Connect(cfg NATSConfig, logger zerolog.Logger) (*nats.Conn, error) {
	log := logger.With().Str("component", "nats").Logger()

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected from observatory bus")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("reconnected to observatory bus")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}

	log.Info().Str("url", nc.ConnectedUrl()).Msg("connected to observatory bus")
	return nc, nil
}

// MsgPublisher is the publishing half of a NATS connection.
type MsgPublisher interface {
	Publish(subj string, data []byte) error
}

// Mirror publishes events on the in-process bus and copies them to NATS so other
// observatory tools can follow the controller.
type Mirror struct {
	local  *events.Bus
	conn   MsgPublisher
	prefix string
	nodeID string
	logger zerolog.Logger
}

// NewMirror wraps bus. A nil conn leaves the mirror local only.
func NewMirror(local *events.Bus, conn MsgPublisher, prefix string, logger zerolog.Logger) *Mirror {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &Mirror{
		local:  local,
		conn:   conn,
		prefix: prefix,
		nodeID: generateNodeID(),
		logger: logger.With().Str("component", "event_mirror").Logger(),
	}
}

// Publish delivers payload locally, then forwards it to <prefix>.<event type>.
func (m *Mirror) Publish(eventType events.EventType, payload events.Payload) {
	m.local.Publish(eventType, payload)

	if m.conn == nil {
		return
	}

	data, err := marshalNATSMessage(eventType, payload, m.nodeID)
	if err != nil {
		m.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to encode event")
		return
	}
	if err := m.conn.Publish(m.Subject(eventType), data); err != nil {
		m.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("failed to mirror event")
	}
}

// MsgSubscriber is the subscribing half of a NATS connection.
type MsgSubscriber interface {
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Relay delivers events that other processes mirrored to NATS onto the local
// bus only. Events this mirror published itself are skipped.
func (m *Mirror) Relay(conn MsgSubscriber, types ...events.EventType) (func(), error) {
	var subs []*nats.Subscription
	stop := func() {
		for _, sub := range subs {
			if err := sub.Unsubscribe(); err != nil {
				m.logger.Debug().Err(err).Str("subject", sub.Subject).Msg("unsubscribe relay")
			}
		}
	}

	for _, t := range types {
		subject := m.Subject(t)
		sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
			decoded, err := unmarshalNATSMessage(msg.Data)
			if err != nil {
				m.logger.Warn().Err(err).Str("subject", msg.Subject).Msg("undecodable relayed event")
				return
			}
			if decoded.NodeID == m.nodeID {
				return
			}
			m.local.Publish(decoded.EventType, decoded.Payload)
		})
		if err != nil {
			stop()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	return stop, nil
}

// Subject returns the NATS subject an event type is mirrored to.
func (m *Mirror) Subject(eventType events.EventType) string {
	return m.prefix + "." + string(eventType)
}

// natsMessage represents a message published to NATS.
type natsMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"` // For deduplication
}

// marshalNATSMessage converts payload to NATS message format.
func marshalNATSMessage(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	msg := natsMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nodeID,
		MessageID: uuid.NewString(),
	}
	return json.Marshal(msg)
}

// unmarshalNATSMessage parses a NATS message.
func unmarshalNATSMessage(data []byte) (*natsMessage, error) {
	var msg natsMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal nats message: %w", err)
	}
	return &msg, nil
}

func generateNodeID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "robobs"
	}
	return host + "-" + uuid.NewString()[:8]
}

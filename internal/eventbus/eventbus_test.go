package eventbus

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/events"
)

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	subs      map[string]nats.MsgHandler
	handler   func(subject string, data []byte) ([]byte, error)
	deadline  bool
}

func (f *fakeConn) Publish(subj string, data []byte) error {
	f.mu.Lock()
	if f.published == nil {
		f.published = map[string][][]byte{}
	}
	f.published[subj] = append(f.published[subj], data)
	h := f.subs[subj]
	f.mu.Unlock()

	if h != nil {
		h(&nats.Msg{Subject: subj, Data: data})
	}
	return nil
}

func (f *fakeConn) Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = map[string]nats.MsgHandler{}
	}
	f.subs[subj] = cb
	return &nats.Subscription{Subject: subj}, nil
}

func (f *fakeConn) RequestWithContext(ctx context.Context, subj string, data []byte) (*nats.Msg, error) {
	_, f.deadline = ctx.Deadline()
	out, err := f.handler(subj, data)
	if err != nil {
		return nil, err
	}
	return &nats.Msg{Subject: subj, Data: out}, nil
}

func TestRequestDecodesResult(t *testing.T) {
	conn := &fakeConn{handler: func(subject string, data []byte) ([]byte, error) {
		if subject != "chimera.site.lst" {
			t.Errorf("subject = %q", subject)
		}
		if !strings.Contains(string(data), `"mjd":61100.5`) {
			t.Errorf("request body = %s", data)
		}
		return EncodeReply(1.25, nil), nil
	}}

	var lst float64
	err := Request(context.Background(), conn, time.Second, "chimera.site.lst", map[string]float64{"mjd": 61100.5}, &lst)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if lst != 1.25 {
		t.Fatalf("lst = %v, want 1.25", lst)
	}
	if !conn.deadline {
		t.Fatal("request context should carry a deadline")
	}
}

func TestRequestErrors(t *testing.T) {
	tests := []struct {
		name     string
		reply    []byte
		transErr error
		wantIs   error
	}{
		{name: "remote error", reply: EncodeReply(nil, errors.New("dome closed")), wantIs: ErrRemote},
		{name: "transport error", transErr: nats.ErrTimeout, wantIs: nats.ErrTimeout},
		{name: "garbage", reply: []byte("not json")},
		{name: "empty result", reply: []byte(`{}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &fakeConn{handler: func(string, []byte) ([]byte, error) { return tt.reply, tt.transErr }}
			var out float64
			err := Request(context.Background(), conn, time.Second, "x.y", struct{}{}, &out)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Fatalf("err = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestDecodeReplyAcknowledgementOnly(t *testing.T) {
	if err := DecodeReply(EncodeReply(nil, nil), nil); err != nil {
		t.Fatalf("ack reply: %v", err)
	}
}

func TestMirrorPublishesLocallyAndToNATS(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventPark)
	conn := &fakeConn{}
	m := NewMirror(bus, conn, "robobs.events", zerolog.Nop())

	m.Publish(events.EventPark, events.Payload{"alt": 88.0})

	select {
	case p := <-sub:
		if p["alt"] != 88.0 {
			t.Fatalf("local payload = %v", p)
		}
	default:
		t.Fatal("local subscriber got nothing")
	}

	msgs := conn.published["robobs.events.controller.park"]
	if len(msgs) != 1 {
		t.Fatalf("mirrored messages = %d, want 1", len(msgs))
	}
	decoded, err := unmarshalNATSMessage(msgs[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventType != events.EventPark || decoded.MessageID == "" || decoded.NodeID == "" {
		t.Fatalf("decoded = %+v", decoded)
	}
}

func TestMirrorWithoutConnectionStaysLocal(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(events.EventReset)
	m := NewMirror(bus, nil, "", zerolog.Nop())

	m.Publish(events.EventReset, events.Payload{})
	if len(sub) != 1 {
		t.Fatal("expected local delivery")
	}
	if got := m.Subject(events.EventReset); got != "robobs.events.controller.reset" {
		t.Fatalf("subject = %q", got)
	}
}

func TestRelayDeliversOtherProcessesEvents(t *testing.T) {
	conn := &fakeConn{}

	serverBus := events.NewBus()
	imported := serverBus.Subscribe(events.EventCatalogImported)
	server := NewMirror(serverBus, conn, "robobs.events", zerolog.Nop())
	stop, err := server.Relay(conn, events.EventCatalogImported, events.EventCatalogReset)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	cli := NewMirror(events.NewBus(), conn, "robobs.events", zerolog.Nop())
	cli.Publish(events.EventCatalogImported, events.Payload{"programs": 3.0, "file": "night.yaml"})

	select {
	case p := <-imported:
		if p["programs"] != 3.0 || p["file"] != "night.yaml" {
			t.Fatalf("relayed payload = %v", p)
		}
	default:
		t.Fatal("server bus got nothing")
	}

	// the server's own events are delivered once, not echoed back
	server.Publish(events.EventCatalogImported, events.Payload{"programs": 1.0})
	if len(imported) != 1 {
		t.Fatalf("server saw its own event %d times, want 1", len(imported))
	}
}

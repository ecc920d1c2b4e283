package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/alfredjeanlab/ctxreg/internal/model"
)

// Message headers set on every published registry event.
const (
	HeaderKind = "Ctxreg-Kind"
	HeaderCode = "Ctxreg-Code"
)

// NATSPublisher publishes JSON-encoded events on kind-scoped subjects (see
// Subject). The event ID doubles as the Nats-Msg-Id so JetStream streams
// drop redeliveries.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := nats.Connect(url, append([]nats.Option{nats.Name("ctxreg-publisher")}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	ref, _ := RefOf(event)
	msg := nats.NewMsg(Subject(topic, ref.Kind))
	msg.Data = data
	if ref.Kind != "" {
		msg.Header.Set(HeaderKind, string(ref.Kind))
		msg.Header.Set(HeaderCode, strconv.FormatInt(ref.Code, 10))
	}
	if ref.EventID != "" {
		msg.Header.Set(nats.MsgIdHdr, ref.EventID)
	}
	if err := p.conn.PublishMsg(msg); err != nil {
		return fmt.Errorf("publishing %s %s %d: %w", topic, ref.Kind, ref.Code, err)
	}
	return nil
}

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber subscribes to registry events from NATS.
type NATSSubscriber struct {
	conn *nats.Conn
}

// NewNATSSubscriber connects to NATS with automatic reconnection support.
// Extra nats.Option values (e.g. disconnect/reconnect handlers) can be appended.
func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	defaults := []nats.Option{
		nats.Name("ctxreg-watch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}
	nc, err := nats.Connect(url, append(defaults, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Subscribe delivers events for kinds (all kinds when empty). Messages that
// arrive while the channel is full are dropped.
func (s *NATSSubscriber) Subscribe(kinds ...model.Kind) (<-chan Message, func(), error) {
	for _, k := range kinds {
		if !k.IsValid() {
			return nil, nil, fmt.Errorf("%w: unknown kind %q", model.ErrInvalidInput, k)
		}
	}

	ch := make(chan Message, 64)
	var (
		mu     sync.Mutex
		closed bool
		once   sync.Once
		subs   []*nats.Subscription
	)
	deliver := func(msg *nats.Msg) {
		m := messageFromNATS(msg)
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case ch <- m:
		default:
		}
	}
	unsubscribe := func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}

	for _, subject := range KindSubjects(kinds...) {
		sub, err := s.conn.Subscribe(subject, deliver)
		if err != nil {
			unsubscribe()
			close(ch)
			return nil, nil, fmt.Errorf("subscribing to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	// The subscriptions must reach the server before we return, or events
	// published on other connections right after are missed.
	if err := s.conn.Flush(); err != nil {
		unsubscribe()
		close(ch)
		return nil, nil, fmt.Errorf("flushing subscription: %w", err)
	}

	cancel := func() {
		once.Do(func() {
			unsubscribe()
			mu.Lock()
			closed = true
			mu.Unlock()
			for {
				select {
				case <-ch:
				default:
					close(ch)
					return
				}
			}
		})
	}
	return ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}

// messageFromNATS recovers the record reference from headers, falling back
// to the subject for publishers that sent none.
func messageFromNATS(msg *nats.Msg) Message {
	topic, kind := SplitSubject(msg.Subject)
	m := Message{Topic: topic, Kind: kind, Data: msg.Data}
	if msg.Header == nil {
		return m
	}
	if k := model.Kind(msg.Header.Get(HeaderKind)); k.IsValid() {
		m.Kind = k
	}
	if code, err := strconv.ParseInt(msg.Header.Get(HeaderCode), 10, 64); err == nil {
		m.Code = code
	}
	m.EventID = msg.Header.Get(nats.MsgIdHdr)
	return m
}

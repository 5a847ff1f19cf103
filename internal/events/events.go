// Package events publishes post lifecycle events for downstream consumers
// such as feed builders. Publishing happens after the database commit and is
// best effort: a failed publish is logged by the caller, never rolled back.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

const (
	PostCreated = "post.created"
	PostUpdated = "post.updated"
	PostDeleted = "post.deleted"
)

type Event struct {
	Type   string    `json:"type"`
	PostID string    `json:"post_id"`
	UserID string    `json:"user_id,omitempty"`
	At     time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

type kafkaPublisher struct {
	w messageWriter
}

// NewKafka returns a Publisher writing JSON events to topic, keyed by post id
// so all events of one post land on the same partition. An empty broker list
// yields a no-op publisher.
func NewKafka(brokers, topic string) Publisher {
	addrs := splitBrokers(brokers)
	if len(addrs) == 0 {
		return Noop{}
	}
	return &kafkaPublisher{w: &kgo.Writer{
		Addr:         kgo.TCP(addrs...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}}
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.w.WriteMessages(ctx, kgo.Message{
		Key:   []byte(ev.PostID),
		Value: b,
		Time:  ev.At,
	})
}

func (p *kafkaPublisher) Close() error { return p.w.Close() }

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }
func (Noop) Close() error                         { return nil }

func splitBrokers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Fanout publishes every event to all of its publishers and reports the
// first failure. Close closes all of them.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

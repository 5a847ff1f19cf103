package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	kgo "github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs   []kgo.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kgo.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestKafkaPublisherWritesKeyedJSON(t *testing.T) {
	w := &recordingWriter{}
	p := &kafkaPublisher{w: w}

	if err := p.Publish(context.Background(), Event{Type: PostCreated, PostID: "p-1", UserID: "u-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "p-1" {
		t.Fatalf("expected post id key, got %q", w.msgs[0].Key)
	}
	var ev Event
	if err := json.Unmarshal(w.msgs[0].Value, &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != PostCreated || ev.UserID != "u-1" || ev.At.IsZero() {
		t.Fatalf("unexpected event %+v", ev)
	}

	_ = p.Close()
	if !w.closed {
		t.Fatalf("expected writer closed")
	}
}

func TestKafkaPublisherError(t *testing.T) {
	p := &kafkaPublisher{w: &recordingWriter{err: errors.New("broker down")}}
	if err := p.Publish(context.Background(), Event{Type: PostDeleted, PostID: "p-1"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewKafkaWithoutBrokersIsNoop(t *testing.T) {
	if _, ok := NewKafka("  ", "posts").(Noop); !ok {
		t.Fatalf("expected noop publisher")
	}
	if _, ok := NewKafka("kafka:9092, kafka2:9092", "posts").(*kafkaPublisher); !ok {
		t.Fatalf("expected kafka publisher")
	}
}

func TestSplitBrokers(t *testing.T) {
	got := splitBrokers("a:1, b:2,,")
	if len(got) != 2 || got[0] != "a:1" || got[1] != "b:2" {
		t.Fatalf("unexpected brokers %v", got)
	}
}

func TestFanoutDeliversToAllAndReportsFirstError(t *testing.T) {
	ok := &recordingWriter{}
	failing := &recordingWriter{err: errors.New("broker down")}
	f := Fanout{&kafkaPublisher{w: failing}, nil, &kafkaPublisher{w: ok}}

	err := f.Publish(context.Background(), Event{Type: PostDeleted, PostID: "p-1"})
	if err == nil || err.Error() != "broker down" {
		t.Fatalf("expected broker error, got %v", err)
	}
	if len(ok.msgs) != 1 {
		t.Fatalf("healthy publisher must still receive the event")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !ok.closed || !failing.closed {
		t.Fatalf("expected every writer closed")
	}
}

package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"backend-travellog/internal/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg := <-c.Send:
		return msg
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for message")
		return nil
	}
}

func TestHubBroadcastLocal(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("user-1")
	defer hub.Unregister(client)
	other := hub.Register("user-2")
	defer hub.Unregister(other)

	hub.Broadcast(context.Background(), "user-1", []byte("hello"))

	if msg := receive(t, client); string(msg) != "hello" {
		t.Fatalf("unexpected message %s", msg)
	}
	select {
	case <-other.Send:
		t.Fatalf("message leaked to another user")
	default:
	}
}

func TestPublishEncodesEvent(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("user-1")
	defer hub.Unregister(client)

	if err := hub.Publish(context.Background(), events.Event{Type: events.PostCreated, PostID: "p-1", UserID: "user-1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	var ev events.Event
	if err := json.Unmarshal(receive(t, client), &ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Type != events.PostCreated || ev.PostID != "p-1" {
		t.Fatalf("unexpected event %+v", ev)
	}

	// events without an owner have nobody to go to
	if err := hub.Publish(context.Background(), events.Event{Type: events.PostDeleted, PostID: "p-2"}); err != nil {
		t.Fatalf("publish ownerless: %v", err)
	}
}

func TestChannelHelpers(t *testing.T) {
	ch := channel("abc")
	if ch != "posts:abc:events" {
		t.Fatalf("unexpected channel %s", ch)
	}
	if userIDFromChannel(ch) != "abc" {
		t.Fatalf("unexpected user id")
	}
	if userIDFromChannel("bad") != "" {
		t.Fatalf("expected empty user id")
	}
}

func TestUnregisterClosesOnce(t *testing.T) {
	hub := NewHub(nil, nil)
	client := hub.Register("user-2")
	hub.Unregister(client)
	hub.Unregister(client)
	if _, ok := <-client.Send; ok {
		t.Fatalf("expected channel closed")
	}
}

func TestHubRedisFansOutAcrossInstances(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	a := NewHub(rdb, nil)
	defer a.Close()
	b := NewHub(rdb, nil)
	defer b.Close()

	onA := a.Register("user-1")
	defer a.Unregister(onA)
	onB := b.Register("user-1")
	defer b.Unregister(onB)

	a.Broadcast(context.Background(), "user-1", []byte("ping"))

	if msg := receive(t, onA); string(msg) != "ping" {
		t.Fatalf("unexpected message on a: %s", msg)
	}
	if msg := receive(t, onB); string(msg) != "ping" {
		t.Fatalf("unexpected message on b: %s", msg)
	}
	select {
	case msg := <-onA.Send:
		t.Fatalf("duplicate delivery on a: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubFallsBackWhenRedisDown(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	srv.Close()
	defer rdb.Close()

	hub := NewHub(rdb, nil)
	defer hub.Close()
	client := hub.Register("user-3")
	defer hub.Unregister(client)

	hub.Broadcast(context.Background(), "user-3", []byte("ping"))
	if msg := receive(t, client); string(msg) != "ping" {
		t.Fatalf("unexpected message %s", msg)
	}
}

// Package stream pushes post lifecycle events to websocket clients watching
// one user's posts.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"backend-travellog/internal/events"
	"backend-travellog/internal/logging"

	"github.com/redis/go-redis/v9"
)

const (
	channelPrefix  = "posts:"
	channelSuffix  = ":events"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// Hub keeps the websocket clients of this instance. With redis, events go
// through pub/sub so clients connected to any instance receive them.
type Hub struct {
	redis   *redis.Client
	ps      *redis.PubSub
	log     *slog.Logger
	clients map[string]map[*Client]struct{}
	mu      sync.RWMutex
	done    chan struct{}
	once    sync.Once
}

type Client struct {
	UserID string
	Send   chan []byte
}

func NewHub(redisClient *redis.Client, log *slog.Logger) *Hub {
	if log == nil {
		log = logging.Discard()
	}
	h := &Hub{
		log:     log,
		clients: map[string]map[*Client]struct{}{},
		done:    make(chan struct{}),
	}
	if redisClient == nil {
		close(h.done)
		return h
	}

	ps := redisClient.PSubscribe(context.Background(), channelPattern)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := ps.Receive(ctx); err != nil {
		log.Warn("post stream subscribe failed, delivering locally only", "error", err)
		_ = ps.Close()
		close(h.done)
		return h
	}

	h.redis = redisClient
	h.ps = ps
	go h.forward()
	return h
}

func (h *Hub) Register(userID string) *Client {
	client := &Client{
		UserID: userID,
		Send:   make(chan []byte, 64),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[userID] == nil {
		h.clients[userID] = map[*Client]struct{}{}
	}
	h.clients[userID][client] = struct{}{}
	return client
}

func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if userClients, ok := h.clients[client.UserID]; ok {
		if _, ok := userClients[client]; !ok {
			return
		}
		delete(userClients, client)
		if len(userClients) == 0 {
			delete(h.clients, client.UserID)
		}
		close(client.Send)
	}
}

// Broadcast sends payload to every client watching userID.
func (h *Hub) Broadcast(ctx context.Context, userID string, payload []byte) {
	if h.redis != nil {
		err := h.redis.Publish(ctx, channel(userID), payload).Err()
		if err == nil {
			return
		}
		h.log.Warn("post stream publish failed", "user_id", userID, "error", err)
	}
	h.deliver(userID, payload)
}

// Publish makes the hub an events.Publisher.
func (h *Hub) Publish(ctx context.Context, ev events.Event) error {
	if ev.UserID == "" {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.Broadcast(ctx, ev.UserID, b)
	return nil
}

// Close stops the redis subscription.
func (h *Hub) Close() error {
	h.once.Do(func() {
		if h.ps != nil {
			_ = h.ps.Close()
		}
	})
	<-h.done
	return nil
}

// deliver never blocks; a client whose buffer is full misses the message.
func (h *Hub) deliver(userID string, payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients[userID] {
		select {
		case client.Send <- payload:
		default:
		}
	}
}

func (h *Hub) forward() {
	defer close(h.done)
	for msg := range h.ps.Channel() {
		h.deliver(userIDFromChannel(msg.Channel), []byte(msg.Payload))
	}
}

func channel(userID string) string {
	return channelPrefix + userID + channelSuffix
}

func userIDFromChannel(ch string) string {
	// posts:{user}:events
	if len(ch) <= len(channelPrefix)+len(channelSuffix) {
		return ""
	}
	return ch[len(channelPrefix) : len(ch)-len(channelSuffix)]
}

// Package idem deduplicates post submissions carrying an Idempotency-Key.
package idem

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const pending = "pending"

// ErrInFlight means a submission with the same key has not finished yet.
var ErrInFlight = errors.New("submission with this key is still in progress")

// Store keeps a reservation for pendingTTL, long enough for one submission
// to finish, and a completed key for ttl. A process that dies mid-submission
// therefore blocks its key only until the reservation lapses.
type Store struct {
	r          *redis.Client
	pendingTTL time.Duration
	ttl        time.Duration
}

func New(rdb *redis.Client, pendingTTL, ttl time.Duration) *Store {
	if pendingTTL <= 0 || pendingTTL > ttl {
		pendingTTL = ttl
	}
	return &Store{r: rdb, pendingTTL: pendingTTL, ttl: ttl}
}

func key(scope, k string) string {
	return "idem:" + scope + ":" + k
}

// Reserve claims k for scope. It returns ("", nil) when the caller owns the
// key and must run the submission, the stored post id when a previous
// submission completed, or ErrInFlight.
func (s *Store) Reserve(ctx context.Context, scope, k string) (string, error) {
	ok, err := s.r.SetNX(ctx, key(scope, k), pending, s.pendingTTL).Result()
	if err != nil {
		return "", err
	}
	if ok {
		return "", nil
	}
	v, err := s.r.Get(ctx, key(scope, k)).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; try once more
		return s.Reserve(ctx, scope, k)
	}
	if err != nil {
		return "", err
	}
	if v == pending {
		return "", ErrInFlight
	}
	return v, nil
}

// Complete records the post created for k.
func (s *Store) Complete(ctx context.Context, scope, k, postID string) error {
	return s.r.Set(ctx, key(scope, k), postID, s.ttl).Err()
}

// Release drops the reservation so a failed submission can be retried.
func (s *Store) Release(ctx context.Context, scope, k string) error {
	return s.r.Del(ctx, key(scope, k)).Err()
}

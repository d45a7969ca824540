package idempotency

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// claimMarker is what Seen stores before a response body exists. Recall
// treats it as "claimed but not finished".
var claimMarker = []byte("1")

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// RequestKey scopes a client-supplied idempotency key to a user so two
// users sending the same key never collide.
func (s *Store) RequestKey(userID, key string) string {
	return fmt.Sprintf("idem:req:%s:%s", userID, key)
}

// Seen atomically records the key and reports whether it existed already.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, claimMarker, s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Remember stores the response body produced for a key so replays can be
// answered without rerunning the operation.
func (s *Store) Remember(ctx context.Context, key string, body []byte) error {
	return s.rdb.Set(ctx, key, body, s.ttl).Err()
}

// Forget releases a claimed key so the client can retry after a failure.
func (s *Store) Forget(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Recall fetches a remembered response; found is false when the key has
// expired, was never stored, or is still just a claim.
func (s *Store) Recall(ctx context.Context, key string) (body []byte, found bool, err error) {
	v, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if bytes.Equal(v, claimMarker) {
		return nil, false, nil
	}
	return v, true, nil
}

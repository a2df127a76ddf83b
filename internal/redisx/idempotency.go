package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrInFlight = errors.New("request with this idempotency key is in flight")

// Idempotency replays stored checkout results per user and key.
type Idempotency struct {
	RDB redis.Cmdable
}

// Lookup decodes a stored result into out and reports whether one existed.
func (s *Idempotency) Lookup(ctx context.Context, userID, key string, out any) (bool, error) {
	b, err := s.RDB.Get(ctx, fmt.Sprintf(KeyCheckoutResult, userID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, out)
}

func (s *Idempotency) Save(ctx context.Context, userID, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.RDB.Set(ctx, fmt.Sprintf(KeyCheckoutResult, userID, key), b, TTLIdempotency).Err()
}

// Acquire takes the in-flight lock for userID+key. It returns ErrInFlight
// when another request holds it.
func (s *Idempotency) Acquire(ctx context.Context, userID, key string) (release func(context.Context), err error) {
	lock := fmt.Sprintf(KeyCheckoutLock, userID, key)
	ok, err := Claim(ctx, s.RDB, lock, TTLCheckoutLock)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInFlight
	}
	return func(ctx context.Context) { _ = Release(ctx, s.RDB, lock) }, nil
}

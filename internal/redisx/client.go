package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-library-holds/internal/holds"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// AvailabilityCache keeps the last computed availability of each book.
type AvailabilityCache struct{ RDB *redis.Client }

func (c *AvailabilityCache) Get(ctx context.Context, bookID string) (holds.Availability, bool) {
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyBookAvailability, bookID)).Result()
	if err != nil || s == "" {
		return holds.Availability{}, false
	}
	var a holds.Availability
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return holds.Availability{}, false
	}
	return a, true
}

func (c *AvailabilityCache) Put(ctx context.Context, a holds.Availability) {
	b, err := json.Marshal(a)
	if err != nil {
		return
	}
	_ = c.RDB.Set(ctx, fmt.Sprintf(KeyBookAvailability, a.BookID), b, TTLAvailability).Err()
}

func (c *AvailabilityCache) Invalidate(ctx context.Context, bookID string) {
	_ = c.RDB.Del(ctx, fmt.Sprintf(KeyBookAvailability, bookID)).Err()
}

// IdempotencyStore remembers checkout responses by client key.
type IdempotencyStore struct{ RDB *redis.Client }

func (s *IdempotencyStore) Lookup(ctx context.Context, key string) (holds.Checkout, bool) {
	v, err := s.RDB.Get(ctx, fmt.Sprintf(KeyIdemCheckout, key)).Result()
	if err != nil {
		return holds.Checkout{}, false
	}
	var co holds.Checkout
	if err := json.Unmarshal([]byte(v), &co); err != nil {
		return holds.Checkout{}, false
	}
	return co, true
}

func (s *IdempotencyStore) Remember(ctx context.Context, key string, co holds.Checkout) {
	b, err := json.Marshal(co)
	if err != nil {
		return
	}
	_ = s.RDB.Set(ctx, fmt.Sprintf(KeyIdemCheckout, key), b, TTLIdempotency).Err()
}

// SweepLock is a SET NX lease; release only deletes the key if we still own it.
type SweepLock struct {
	RDB *redis.Client
	Key string
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (l *SweepLock) TryLock(ctx context.Context, ttl time.Duration) (func(), bool, error) {
	key := l.Key
	if key == "" {
		key = KeySweepLock
	}
	token := uuid.NewString()
	ok, err := l.RDB.SetNX(ctx, key, token, ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(ctx, l.RDB, []string{key}, token).Err()
	}
	return release, true, nil
}

// MarkOnce records id as processed for service and reports whether this
// call was the first.
func MarkOnce(ctx context.Context, rdb *redis.Client, service, id string) (bool, error) {
	ok, err := rdb.SetNX(ctx, fmt.Sprintf(KeyDedup, service, id), "1", TTLDedup).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}

// Dedup is the notifier's Deduper.
type Dedup struct{ RDB *redis.Client }

func (d *Dedup) Seen(ctx context.Context, service, id string) (bool, error) {
	return Exists(ctx, d.RDB, fmt.Sprintf(KeyDedup, service, id))
}

func (d *Dedup) Mark(ctx context.Context, service, id string) error {
	_, err := MarkOnce(ctx, d.RDB, service, id)
	return err
}

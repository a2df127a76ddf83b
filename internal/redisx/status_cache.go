package redisx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus is one cache entry. UpdatedAt is the order row's updated_at
// and doubles as the entry version.
type CachedStatus struct {
	Status    string
	ClientID  string
	UpdatedAt time.Time
}

// StatusCache is the cache-aside copy of order status.
type StatusCache struct {
	RDB redis.Cmdable
}

// setIfNewer refuses to replace an entry written from a later row version.
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'version')
if cur and tonumber(cur) > tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'version', ARGV[1], 'status', ARGV[2], 'client_id', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	m, err := c.RDB.HGetAll(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil {
		return CachedStatus{}, false, err
	}
	if len(m) == 0 {
		return CachedStatus{}, false, nil
	}
	v, err := strconv.ParseInt(m["version"], 10, 64)
	if err != nil {
		return CachedStatus{}, false, fmt.Errorf("status cache version: %w", err)
	}
	return CachedStatus{
		Status:    m["status"],
		ClientID:  m["client_id"],
		UpdatedAt: time.UnixMicro(v).UTC(),
	}, true, nil
}

// Set stores s unless the cached entry is newer. It reports whether s was
// written. Versions are compared at microsecond precision, as Postgres
// stores them.
func (c *StatusCache) Set(ctx context.Context, orderID string, s CachedStatus) (bool, error) {
	n, err := setIfNewer.Run(ctx, c.RDB,
		[]string{fmt.Sprintf(KeyOrderStatus, orderID)},
		s.UpdatedAt.UnixMicro(), s.Status, s.ClientID, TTLStatusCache.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *StatusCache) Invalidate(ctx context.Context, orderID string) error {
	return c.RDB.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

package testutil

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// RedisBundle bundles together a miniredis instance and an associated Redis
// client.
type RedisBundle struct {
	mr *miniredis.Miniredis
	rc *redis.Client
}

// MustCreateRedisBundle returns a new RedisBundle. Both the client and the
// server are shut down when the test completes.
func MustCreateRedisBundle(t *testing.T) *RedisBundle {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { rc.Close() })
	return &RedisBundle{mr: mr, rc: rc}
}

// Client returns the Redis client.
func (rb *RedisBundle) Client() *redis.Client {
	return rb.rc
}

// FastForward advances miniredis' clock, expiring keys whose TTL elapses.
func (rb *RedisBundle) FastForward(d time.Duration) {
	rb.mr.FastForward(d)
}

// TTL returns the remaining TTL of key, or zero if it has none.
func (rb *RedisBundle) TTL(key string) time.Duration {
	return rb.mr.TTL(key)
}

// Exists reports whether key is present.
func (rb *RedisBundle) Exists(key string) bool {
	return rb.mr.Exists(key)
}

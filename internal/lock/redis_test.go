package lock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLeaseOutlivesTTLWhileHeld(t *testing.T) {
	client := openTestRedis(t)
	prefix := "presence-test:" + uuid.NewString() + ":"
	ttl := 300 * time.Millisecond
	a := NewRedis(client, prefix, ttl, nil)
	b := NewRedis(client, prefix, ttl, nil)
	ctx := context.Background()

	unlock, err := a.Lock(ctx, "participant:p1")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	// Hold for several lease periods, as a slow verification would.
	time.Sleep(3 * ttl)

	waitCtx, cancel := context.WithTimeout(ctx, ttl)
	defer cancel()
	if _, err := b.Lock(waitCtx, "participant:p1"); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second holder got a lease that should still be renewed: %v", err)
	}

	unlock()
	unlockB, err := b.Lock(ctx, "participant:p1")
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	unlockB()
	if n, _ := client.Exists(ctx, prefix+"participant:p1").Result(); n != 0 {
		t.Fatalf("key left behind after release")
	}
}

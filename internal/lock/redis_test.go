package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), s
}

func TestAcquireIsExclusive(t *testing.T) {
	locker, _ := newTestLocker(t)
	ctx := context.Background()

	release, ok, err := locker.Acquire(ctx, "submit:form-1:user-1", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire = %v, %v", ok, err)
	}
	if _, ok, err := locker.Acquire(ctx, "submit:form-1:user-1", time.Minute); err != nil || ok {
		t.Fatalf("second Acquire = %v, %v; want busy", ok, err)
	}
	if _, ok, _ := locker.Acquire(ctx, "submit:form-1:user-2", time.Minute); !ok {
		t.Fatal("different key should not be blocked")
	}

	release()
	if _, ok, err := locker.Acquire(ctx, "submit:form-1:user-1", time.Minute); err != nil || !ok {
		t.Fatalf("Acquire after release = %v, %v", ok, err)
	}
}

func TestReleaseDoesNotDropForeignLock(t *testing.T) {
	locker, s := newTestLocker(t)
	ctx := context.Background()

	release, ok, _ := locker.Acquire(ctx, "k", time.Second)
	if !ok {
		t.Fatal("Acquire failed")
	}
	s.FastForward(2 * time.Second)
	if _, ok, _ := locker.Acquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expired lock should be acquirable")
	}

	release()
	if !s.Exists("lock:k") {
		t.Fatal("stale release removed the new holder's lock")
	}
}

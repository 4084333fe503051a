package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisLockMutualExclusion(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := New(client, nil, "campaign:abc", time.Minute)
	b := New(client, nil, "campaign:abc", time.Minute)

	ok, err := a.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("second holder acquired a held lock")
	}

	if err := a.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = b.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseIsTokenChecked(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := New(client, nil, "campaign:xyz", time.Minute)
	b := New(client, nil, "campaign:xyz", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire failed")
	}
	// b never held the lock; releasing must not free a's lock.
	if err := b.Release(ctx); err != nil {
		t.Fatalf("stranger release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("lock was freed by a non-holder")
	}
}

func TestLocksAreIndependentPerKey(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()

	a := New(client, nil, "campaign:one", time.Minute)
	b := New(client, nil, "campaign:two", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("acquire one failed")
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("acquire two failed")
	}
}

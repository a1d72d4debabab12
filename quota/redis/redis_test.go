//go:build integration

package redis_test

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/sitegen"
	quotaredis "github.com/ineyio/sitegen/quota/redis"
)

func newTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("redis not available at %s: %v", addr, err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, client *goredis.Client) *quotaredis.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := "test:" + t.Name() + ":"
	s := quotaredis.New(client, quotaredis.WithKeyPrefix(prefix))
	t.Cleanup(func() {
		ctx := context.Background()
		iter := client.Scan(ctx, 0, prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	})
	return s
}

func TestLoadMissing(t *testing.T) {
	store := newTestStore(t, newTestClient(t))

	_, ok, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestRolloverAndLoad(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	rec, err := store.Rollover(ctx, "u1", "2026-10-19")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.UsedCount != 0 || rec.PeriodKey != "2026-10-19" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, _, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	rec, ok, err := store.Load(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}
	if rec.UsedCount != 1 {
		t.Fatalf("expected used=1, got %d", rec.UsedCount)
	}

	rec, err = store.Rollover(ctx, "u1", "2026-10-20")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.UsedCount != 0 || rec.PeriodKey != "2026-10-20" {
		t.Fatalf("expected reset record, got %+v", rec)
	}
}

func TestIncrementUntilLimit(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		rec, granted, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 3)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if !granted || rec.UsedCount != i {
			t.Fatalf("increment %d: granted=%v used=%d", i, granted, rec.UsedCount)
		}
	}

	rec, granted, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 3)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if granted || rec.UsedCount != 3 {
		t.Fatalf("expected denial with used=3, got granted=%v used=%d", granted, rec.UsedCount)
	}
}

func TestConcurrentIncrement(t *testing.T) {
	store := newTestStore(t, newTestClient(t))
	ctx := context.Background()

	const limit, extra = 25, 40
	var granted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < limit+extra; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := store.IncrementIfBelow(ctx, "shared", "2026-10-19", limit)
			if err != nil {
				t.Errorf("increment: %v", err)
				return
			}
			if ok {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	if granted.Load() != limit {
		t.Fatalf("expected %d grants, got %d", limit, granted.Load())
	}
}

func TestUnreachableIsStoreUnavailable(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{Addr: "127.0.0.1:1"})
	t.Cleanup(func() { client.Close() })
	store := quotaredis.New(client)

	_, _, err := store.IncrementIfBelow(context.Background(), "u1", "2026-10-19", 3)
	if !sitegen.IsTransient(err) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

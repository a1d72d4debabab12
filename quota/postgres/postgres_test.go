//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/sitegen"
	quotapg "github.com/ineyio/sitegen/quota/postgres"
)

func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = "postgres://localhost:5432/sitegen_test?sslmode=disable"
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("pgxpool: %v", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("postgres not available: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newTestStore(t *testing.T, pool *pgxpool.Pool) *quotapg.Store {
	t.Helper()
	// Use a unique prefix per test to avoid collisions.
	prefix := fmt.Sprintf("test_%s_", strings.ToLower(t.Name()))
	s := quotapg.New(pool, quotapg.WithTablePrefix(prefix))

	ctx := context.Background()
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	t.Cleanup(func() {
		pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %squotas", prefix))
	})
	return s
}

func TestLoadMissing(t *testing.T) {
	store := newTestStore(t, newTestPool(t))

	_, ok, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatal("expected no record")
	}
}

func TestRolloverCreatesAndResets(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	rec, err := store.Rollover(ctx, "u1", "2026-10-19")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.PeriodKey != "2026-10-19" || rec.UsedCount != 0 {
		t.Fatalf("unexpected record: %+v", rec)
	}

	if _, _, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 5); err != nil {
		t.Fatalf("increment: %v", err)
	}

	// Same period: untouched.
	rec, err = store.Rollover(ctx, "u1", "2026-10-19")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.UsedCount != 1 {
		t.Fatalf("expected used=1, got %d", rec.UsedCount)
	}

	// New period: reset.
	rec, err = store.Rollover(ctx, "u1", "2026-10-20")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if rec.PeriodKey != "2026-10-20" || rec.UsedCount != 0 {
		t.Fatalf("unexpected record after reset: %+v", rec)
	}
}

func TestIncrementUntilLimit(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
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
	if granted {
		t.Fatal("expected denial at limit")
	}
	if rec.UsedCount != 3 {
		t.Fatalf("expected used=3, got %d", rec.UsedCount)
	}

	rec, granted, err = store.IncrementIfBelow(ctx, "u1", "2026-10-20", 3)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if !granted || rec.UsedCount != 1 || rec.PeriodKey != "2026-10-20" {
		t.Fatalf("expected rollover grant, got granted=%v rec=%+v", granted, rec)
	}
}

func TestConcurrentIncrement(t *testing.T) {
	store := newTestStore(t, newTestPool(t))
	ctx := context.Background()

	const limit, extra = 25, 25
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

func TestClosedPoolIsStoreUnavailable(t *testing.T) {
	pool := newTestPool(t)
	store := quotapg.New(pool, quotapg.WithTablePrefix("test_closed_"))
	pool.Close()

	_, _, err := store.IncrementIfBelow(context.Background(), "u1", "2026-10-19", 3)
	if err == nil {
		t.Fatal("expected error on closed pool")
	}
	if !sitegen.IsTransient(err) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

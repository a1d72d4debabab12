package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/sitegen"
	quotasqlite "github.com/ineyio/sitegen/quota/sqlite"
)

func openTestStore(t *testing.T) *quotasqlite.Store {
	t.Helper()
	s, err := quotasqlite.Open(context.Background(), filepath.Join(t.TempDir(), "quota.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newMockStore(t *testing.T) (*quotasqlite.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return quotasqlite.New(db), mock
}

func TestIncrementUntilLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		rec, granted, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 3)
		require.NoError(t, err)
		assert.True(t, granted)
		assert.Equal(t, i, rec.UsedCount)
	}

	rec, granted, err := store.IncrementIfBelow(ctx, "u1", "2026-10-19", 3)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, sitegen.QuotaRecord{SubjectID: "u1", PeriodKey: "2026-10-19", UsedCount: 3}, rec)

	rec, granted, err = store.IncrementIfBelow(ctx, "u1", "2026-10-20", 3)
	require.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, sitegen.QuotaRecord{SubjectID: "u1", PeriodKey: "2026-10-20", UsedCount: 1}, rec)
}

func TestRollover(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, ok, err := store.Load(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	rec, err := store.Rollover(ctx, "u1", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(0), rec.UsedCount)

	_, _, err = store.IncrementIfBelow(ctx, "u1", "2026-10-19", 5)
	require.NoError(t, err)

	rec, err = store.Rollover(ctx, "u1", "2026-10-19")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.UsedCount, "same period must be left untouched")

	rec, err = store.Rollover(ctx, "u1", "2026-10-20")
	require.NoError(t, err)
	assert.Equal(t, sitegen.QuotaRecord{SubjectID: "u1", PeriodKey: "2026-10-20", UsedCount: 0}, rec)
}

func TestLedgerConcurrentExactGrants(t *testing.T) {
	store := openTestStore(t)
	clock := sitegen.ClockFunc(func() time.Time {
		return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	})
	ledger, err := sitegen.NewLedger(store, 25, sitegen.WithClock(clock))
	require.NoError(t, err)

	var granted, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := ledger.TryConsume(context.Background(), "shared")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.Granted {
				granted.Add(1)
			} else {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(25), granted.Load())
	assert.Equal(t, int64(15), denied.Load())
}

func TestEnsureSchema_Mock(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS sitegen_quotas").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementDenied_ReadsBackRow(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO sitegen_quotas").
		WithArgs("u1", "2026-10-19", int64(2)).
		WillReturnRows(sqlmock.NewRows([]string{"period_key", "used_count"}))
	mock.ExpectQuery("SELECT period_key, used_count FROM sitegen_quotas").
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"period_key", "used_count"}).AddRow("2026-10-19", 2))

	rec, granted, err := store.IncrementIfBelow(context.Background(), "u1", "2026-10-19", 2)
	require.NoError(t, err)
	assert.False(t, granted)
	assert.Equal(t, int64(2), rec.UsedCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryFailure_IsStoreUnavailable(t *testing.T) {
	store, mock := newMockStore(t)
	cause := errors.New("disk I/O error")

	mock.ExpectQuery("INSERT INTO sitegen_quotas").WillReturnError(cause)
	_, granted, err := store.IncrementIfBelow(context.Background(), "u1", "2026-10-19", 2)
	assert.False(t, granted)
	assert.ErrorIs(t, err, sitegen.ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)

	mock.ExpectQuery("SELECT period_key, used_count").WillReturnError(cause)
	_, _, err = store.Load(context.Background(), "u1")
	assert.ErrorIs(t, err, sitegen.ErrStoreUnavailable)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerNeverGrantsOnStoreFailure(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("INSERT INTO sitegen_quotas").WillReturnError(errors.New("database is locked"))

	ledger, err := sitegen.NewLedger(store, 5)
	require.NoError(t, err)

	d, err := ledger.TryConsume(context.Background(), "u1")
	assert.ErrorIs(t, err, sitegen.ErrStoreUnavailable)
	assert.NotErrorIs(t, err, sitegen.ErrQuotaExceeded)
	assert.False(t, d.Granted)
}

// Package sqlite provides a SQLite-backed QuotaStore for single-node
// deployments.
//
// The store uses the same conditional upsert as the PostgreSQL backend. Open
// limits the pool to one connection, so SQLite executes statements one at a
// time and concurrent IncrementIfBelow calls cannot interleave.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/ineyio/sitegen"
)

// Store is a SQLite-backed QuotaStore.
type Store struct {
	db    *sql.DB
	table string
}

var _ sitegen.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTableName sets the table name (default "sitegen_quotas").
func WithTableName(name string) Option {
	return func(s *Store) { s.table = name }
}

// Open opens (creating if needed) a SQLite database at path and ensures the
// schema exists.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("sitegen/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := New(db, opts...)
	if err := s.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle.
func New(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		table: "sitegen_quotas",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureSchema creates the quota table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		subject_id TEXT PRIMARY KEY,
		period_key TEXT NOT NULL,
		used_count INTEGER NOT NULL DEFAULT 0 CHECK (used_count >= 0),
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`, s.table))
	if err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

// Load returns the stored record for a subject.
func (s *Store) Load(ctx context.Context, subjectID string) (sitegen.QuotaRecord, bool, error) {
	rec := sitegen.QuotaRecord{SubjectID: subjectID}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT period_key, used_count FROM %s WHERE subject_id = ?1`, s.table),
		subjectID,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, sql.ErrNoRows) {
		return sitegen.QuotaRecord{}, false, nil
	}
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("load", err)
	}
	return rec, true, nil
}

// Rollover creates or resets the subject's row for periodKey.
func (s *Store) Rollover(ctx context.Context, subjectID, periodKey string) (sitegen.QuotaRecord, error) {
	rec := sitegen.QuotaRecord{SubjectID: subjectID}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (subject_id, period_key, used_count) VALUES (?1, ?2, 0)
			ON CONFLICT (subject_id) DO UPDATE
				SET period_key = excluded.period_key, used_count = 0, updated_at = CURRENT_TIMESTAMP
				WHERE %[1]s.period_key <> excluded.period_key
			RETURNING period_key, used_count`, s.table),
		subjectID, periodKey,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, sql.ErrNoRows) {
		return s.mustLoad(ctx, "rollover", subjectID)
	}
	if err != nil {
		return sitegen.QuotaRecord{}, unavailable("rollover", err)
	}
	return rec, nil
}

// IncrementIfBelow atomically rolls over and increments the subject's row.
func (s *Store) IncrementIfBelow(ctx context.Context, subjectID, periodKey string, limit int64) (sitegen.QuotaRecord, bool, error) {
	if limit <= 0 {
		rec, err := s.Rollover(ctx, subjectID, periodKey)
		return rec, false, err
	}

	rec := sitegen.QuotaRecord{SubjectID: subjectID}
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s (subject_id, period_key, used_count) VALUES (?1, ?2, 1)
			ON CONFLICT (subject_id) DO UPDATE
				SET used_count = CASE WHEN %[1]s.period_key = excluded.period_key THEN %[1]s.used_count + 1 ELSE 1 END,
					period_key = excluded.period_key,
					updated_at = CURRENT_TIMESTAMP
				WHERE %[1]s.period_key <> excluded.period_key OR %[1]s.used_count < ?3
			RETURNING period_key, used_count`, s.table),
		subjectID, periodKey, limit,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, sql.ErrNoRows) {
		cur, err := s.mustLoad(ctx, "consume", subjectID)
		return cur, false, err
	}
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("consume", err)
	}
	return rec, true, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// mustLoad reads back a row that an upsert left unchanged.
func (s *Store) mustLoad(ctx context.Context, op, subjectID string) (sitegen.QuotaRecord, error) {
	rec, ok, err := s.Load(ctx, subjectID)
	if err != nil {
		return sitegen.QuotaRecord{}, err
	}
	if !ok {
		return sitegen.QuotaRecord{}, unavailable(op, fmt.Errorf("row for %q vanished", subjectID))
	}
	return rec, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sitegen/sqlite: %s: %w: %w", op, sitegen.ErrStoreUnavailable, err)
}

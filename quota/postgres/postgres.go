// Package postgres provides a PostgreSQL-backed QuotaStore for sitegen.
//
// Each subject owns one row. IncrementIfBelow is a single
// INSERT ... ON CONFLICT DO UPDATE ... WHERE statement, so the period check,
// the limit check and the increment happen under the row lock the upsert
// takes. This makes it safe for multi-instance deployments.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/sitegen"
)

// Store is a PostgreSQL-backed QuotaStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var _ sitegen.QuotaStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "sitegen_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed QuotaStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "sitegen_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) quotasTable() string { return s.tablePrefix + "quotas" }

// EnsureSchema creates the required table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			subject_id TEXT PRIMARY KEY,
			period_key TEXT NOT NULL,
			used_count BIGINT NOT NULL DEFAULT 0 CHECK (used_count >= 0),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`, s.quotasTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return unavailable("ensure schema", err)
	}
	return nil
}

// Load returns the stored record for a subject.
func (s *Store) Load(ctx context.Context, subjectID string) (sitegen.QuotaRecord, bool, error) {
	rec := sitegen.QuotaRecord{SubjectID: subjectID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT period_key, used_count FROM %s WHERE subject_id = $1`, s.quotasTable()),
		subjectID,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, pgx.ErrNoRows) {
		return sitegen.QuotaRecord{}, false, nil
	}
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("load", err)
	}
	return rec, true, nil
}

// Rollover creates or resets the subject's row for periodKey.
func (s *Store) Rollover(ctx context.Context, subjectID, periodKey string) (sitegen.QuotaRecord, error) {
	// The conditional DO UPDATE leaves a current row alone, in which case
	// RETURNING yields nothing and the row is read back.
	rec := sitegen.QuotaRecord{SubjectID: subjectID}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS q (subject_id, period_key, used_count)
			VALUES ($1, $2, 0)
			ON CONFLICT (subject_id) DO UPDATE
				SET period_key = EXCLUDED.period_key, used_count = 0, updated_at = now()
				WHERE q.period_key <> EXCLUDED.period_key
			RETURNING period_key, used_count`, s.quotasTable()),
		subjectID, periodKey,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, pgx.ErrNoRows) {
		cur, ok, err := s.Load(ctx, subjectID)
		if err != nil {
			return sitegen.QuotaRecord{}, err
		}
		if !ok {
			return sitegen.QuotaRecord{}, unavailable("rollover", fmt.Errorf("row for %q vanished", subjectID))
		}
		return cur, nil
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
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`INSERT INTO %[1]s AS q (subject_id, period_key, used_count)
			VALUES ($1, $2, 1)
			ON CONFLICT (subject_id) DO UPDATE
				SET used_count = CASE WHEN q.period_key = EXCLUDED.period_key THEN q.used_count + 1 ELSE 1 END,
					period_key = EXCLUDED.period_key,
					updated_at = now()
				WHERE q.period_key <> EXCLUDED.period_key OR q.used_count < $3
			RETURNING period_key, used_count`, s.quotasTable()),
		subjectID, periodKey, limit,
	).Scan(&rec.PeriodKey, &rec.UsedCount)

	if errors.Is(err, pgx.ErrNoRows) {
		// Denied: the row is current and at the limit.
		cur, ok, err := s.Load(ctx, subjectID)
		if err != nil {
			return sitegen.QuotaRecord{}, false, err
		}
		if !ok {
			return sitegen.QuotaRecord{}, false, unavailable("consume", fmt.Errorf("row for %q vanished", subjectID))
		}
		return cur, false, nil
	}
	if err != nil {
		return sitegen.QuotaRecord{}, false, unavailable("consume", err)
	}
	return rec, true, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("sitegen/postgres: %s: %w: %w", op, sitegen.ErrStoreUnavailable, err)
}

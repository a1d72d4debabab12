package sitegen

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultDailyLimit is the number of grants per subject per day when none is configured.
const DefaultDailyLimit = 25

// Ledger gates a scarce resource with a per-subject daily counter.
//
// The ledger holds no per-subject state of its own: every call re-derives the
// record from the QuotaStore, and TryConsume delegates the check and the
// increment to a single atomic store operation.
type Ledger struct {
	store QuotaStore
	limit int64
	clock Clock
	loc   *time.Location
	meter Meter
}

// LedgerOption configures a Ledger.
type LedgerOption func(*Ledger)

// WithClock sets the time source (default: system clock).
func WithClock(c Clock) LedgerOption {
	return func(l *Ledger) { l.clock = c }
}

// WithLocation sets the reference timezone that defines a calendar day (default UTC).
func WithLocation(loc *time.Location) LedgerOption {
	return func(l *Ledger) { l.loc = loc }
}

// WithLedgerMeter sets the meter notified of ledger operations.
func WithLedgerMeter(m Meter) LedgerOption {
	return func(l *Ledger) { l.meter = m }
}

// NewLedger creates a Ledger granting at most limit units per subject per day.
func NewLedger(store QuotaStore, limit int64, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("sitegen: quota store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("sitegen: daily limit must be positive, got %d", limit)
	}

	l := &Ledger{
		store: store,
		limit: limit,
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.clock == nil {
		l.clock = SystemClock()
	}
	if l.loc == nil {
		l.loc = time.UTC
	}
	if l.meter == nil {
		l.meter = noopMeter{}
	}

	return l, nil
}

// Limit returns the daily limit.
func (l *Ledger) Limit() int64 { return l.limit }

// Location returns the reference timezone.
func (l *Ledger) Location() *time.Location { return l.loc }

// Status returns the subject's usage for today. A missing or stale record is
// reset in the store as a side effect.
func (l *Ledger) Status(ctx context.Context, subjectID string) (QuotaStatus, error) {
	if err := ValidateSubject(subjectID); err != nil {
		return QuotaStatus{}, err
	}

	today := PeriodKey(l.clock.Now(), l.loc)

	rec, ok, err := l.store.Load(ctx, subjectID)
	if err != nil {
		err = storeError("load", err)
		l.meter.OnQuota(QuotaEvent{SubjectID: subjectID, Op: QuotaOpStatus, PeriodKey: today, Error: err})
		return QuotaStatus{}, err
	}

	if !ok || rec.PeriodKey != today {
		rec, err = l.store.Rollover(ctx, subjectID, today)
		if err != nil {
			err = storeError("rollover", err)
			l.meter.OnQuota(QuotaEvent{SubjectID: subjectID, Op: QuotaOpStatus, PeriodKey: today, Error: err})
			return QuotaStatus{}, err
		}
	}

	status := newQuotaStatus(rec.UsedCount, l.limit)
	l.meter.OnQuota(QuotaEvent{
		SubjectID: subjectID,
		Op:        QuotaOpStatus,
		Granted:   status.Remaining > 0,
		Status:    status,
		PeriodKey: today,
	})
	return status, nil
}

// TryConsume grants one unit to the subject if any remain today.
//
// A denial is not an error: it returns a Decision with Granted false and the
// current status, and nothing is written. Errors are limited to
// ErrInvalidSubject and ErrStoreUnavailable.
func (l *Ledger) TryConsume(ctx context.Context, subjectID string) (Decision, error) {
	if err := ValidateSubject(subjectID); err != nil {
		return Decision{}, err
	}

	now := l.clock.Now()
	today := PeriodKey(now, l.loc)

	rec, granted, err := l.store.IncrementIfBelow(ctx, subjectID, today, l.limit)
	if err != nil {
		err = storeError("consume", err)
		l.meter.OnQuota(QuotaEvent{SubjectID: subjectID, Op: QuotaOpConsume, PeriodKey: today, Error: err})
		return Decision{}, err
	}

	d := Decision{
		Granted: granted,
		Status:  newQuotaStatus(rec.UsedCount, l.limit),
		ResetAt: NextRollover(now, l.loc),
	}
	l.meter.OnQuota(QuotaEvent{
		SubjectID: subjectID,
		Op:        QuotaOpConsume,
		Granted:   granted,
		Status:    d.Status,
		PeriodKey: today,
	})
	return d, nil
}

// RetryAfter returns how long until the period following now begins.
func (l *Ledger) RetryAfter(now time.Time) time.Duration {
	return NextRollover(now, l.loc).Sub(now)
}

// storeError makes sure a store failure carries ErrStoreUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("sitegen: quota %s: %w", op, err)
	}
	return fmt.Errorf("sitegen: quota %s: %w: %w", op, ErrStoreUnavailable, err)
}

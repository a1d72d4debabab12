package sitegen

import (
	"context"
	"time"
)

// QuotaStore persists one QuotaRecord per subject.
//
// Implementations must wrap infrastructure failures with ErrStoreUnavailable so
// the ledger can tell them apart from a denial.
type QuotaStore interface {
	// Load returns the stored record for a subject. ok is false if none exists.
	Load(ctx context.Context, subjectID string) (rec QuotaRecord, ok bool, err error)

	// Rollover creates the record with a zero count if it is absent, or resets
	// it to zero if its period differs from periodKey. A record already in
	// periodKey is left untouched. Returns the record as stored afterwards.
	Rollover(ctx context.Context, subjectID, periodKey string) (QuotaRecord, error)

	// IncrementIfBelow atomically rolls the record over to periodKey if needed
	// and increments its count when the count is below limit. granted reports
	// whether the increment happened; rec is the record after the call.
	IncrementIfBelow(ctx context.Context, subjectID, periodKey string, limit int64) (rec QuotaRecord, granted bool, err error)
}

// QuotaRecord is the stored usage of one subject in one period.
type QuotaRecord struct {
	SubjectID string
	PeriodKey string
	UsedCount int64
}

// QuotaStatus is the usage view returned to callers.
type QuotaStatus struct {
	Used      int64 `json:"used"`
	Total     int64 `json:"total"`
	Remaining int64 `json:"remaining"`
}

// newQuotaStatus derives a status from a used count and limit.
func newQuotaStatus(used, total int64) QuotaStatus {
	return QuotaStatus{
		Used:      used,
		Total:     total,
		Remaining: max(total-used, 0),
	}
}

// Decision is the outcome of Ledger.TryConsume.
type Decision struct {
	Granted bool
	Status  QuotaStatus
	ResetAt time.Time
}

// Err returns ErrQuotaExceeded for a denial and nil for a grant.
func (d Decision) Err() error {
	if d.Granted {
		return nil
	}
	return ErrQuotaExceeded
}

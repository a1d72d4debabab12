// Package quota provides an in-memory QuotaStore.
//
// Backends for shared deployments live in the postgres, redis and sqlite
// subpackages.
package quota

import (
	"context"
	"sync"

	"github.com/ineyio/sitegen"
)

// MemoryQuotaStore is an in-process QuotaStore. State is lost on restart and
// not shared between instances.
type MemoryQuotaStore struct {
	mu      sync.Mutex
	records map[string]sitegen.QuotaRecord
}

var _ sitegen.QuotaStore = (*MemoryQuotaStore)(nil)

// NewMemoryQuotaStore creates a new in-memory quota store.
func NewMemoryQuotaStore() *MemoryQuotaStore {
	return &MemoryQuotaStore{
		records: make(map[string]sitegen.QuotaRecord),
	}
}

// Load returns the stored record for a subject.
func (s *MemoryQuotaStore) Load(_ context.Context, subjectID string) (sitegen.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[subjectID]
	return rec, ok, nil
}

// Rollover creates or resets the subject's record for periodKey.
func (s *MemoryQuotaStore) Rollover(_ context.Context, subjectID, periodKey string) (sitegen.QuotaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.rolloverLocked(subjectID, periodKey), nil
}

// IncrementIfBelow increments the subject's count for periodKey if it is below limit.
func (s *MemoryQuotaStore) IncrementIfBelow(_ context.Context, subjectID, periodKey string, limit int64) (sitegen.QuotaRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.rolloverLocked(subjectID, periodKey)
	if rec.UsedCount >= limit {
		return rec, false, nil
	}

	rec.UsedCount++
	s.records[subjectID] = rec
	return rec, true, nil
}

// Len returns the number of stored records.
func (s *MemoryQuotaStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// rolloverLocked must be called with mu held.
func (s *MemoryQuotaStore) rolloverLocked(subjectID, periodKey string) sitegen.QuotaRecord {
	rec, ok := s.records[subjectID]
	if ok && rec.PeriodKey == periodKey {
		return rec
	}
	rec = sitegen.QuotaRecord{SubjectID: subjectID, PeriodKey: periodKey}
	s.records[subjectID] = rec
	return rec
}

package tracker

import (
	"sync"
	"time"
)

// Store is the in-memory job status map. It is pure bookkeeping: entries
// enter via Track, mutate only through authoritative updates (push events
// and corrective fetch results), and leave explicitly via Remove once
// terminal. There is no capacity-based eviction.
type Store struct {
	mu      sync.Mutex
	records map[string]*JobRecord
	order   []string // registration order, drives FIFO candidate selection
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{records: make(map[string]*JobRecord)}
}

// Track registers a job if absent and returns its record. A new record gets
// LastUpdate set to now so the push channel is granted a full staleness
// window before any correction is attempted. Tracking an existing job is a
// no-op.
func (s *Store) Track(id string, status Status, now time.Time) JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		return *record
	}
	record := &JobRecord{
		ID:         id,
		Status:     status,
		LastUpdate: now,
	}
	s.records[id] = record
	s.order = append(s.order, id)
	return *record
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return JobRecord{}, false
	}
	return *record, true
}

// ApplyUpdate merges an authoritative status report into the record and
// refreshes LastUpdate. Correction attempt bookkeeping resets when a job
// enters processing. Returns false when the job is not tracked.
func (s *Store) ApplyUpdate(id string, status Status, progress float64, now time.Time) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return JobRecord{}, false
	}
	if status == StatusProcessing && record.Status != StatusProcessing {
		record.CorrectionAttempts = 0
	}
	record.Status = status
	record.Progress = progress
	record.LastUpdate = now
	return *record, true
}

// Touch refreshes LastUpdate and Progress without changing status; used by
// NotifyProgress when the caller relays a push event out-of-band.
func (s *Store) Touch(id string, progress float64, now time.Time) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return JobRecord{}, false
	}
	record.Progress = progress
	record.LastUpdate = now
	return *record, true
}

// Remove drops a job from active tracking.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[id]; !ok {
		return
	}
	delete(s.records, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// MarkInFlight flags a job as having an outstanding corrective fetch.
// Returns false if the job is unknown or already has one in flight,
// preserving the at-most-one-correction-per-job invariant.
func (s *Store) MarkInFlight(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok || record.CorrectionInFlight {
		return false
	}
	record.CorrectionInFlight = true
	return true
}

// ClearInFlight releases a job's correction slot without touching its
// status; used when a fetch errors so the job stays a candidate next tick.
func (s *Store) ClearInFlight(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[id]; ok {
		record.CorrectionInFlight = false
	}
}

// ResolveCorrection applies a successful corrective fetch result: merges the
// authoritative status, increments the attempt count, and releases the
// correction slot. Returns false when the job was untracked in the meantime.
func (s *Store) ResolveCorrection(id string, status Status, progress float64, now time.Time) (JobRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return JobRecord{}, false
	}
	record.Status = status
	record.Progress = progress
	record.LastUpdate = now
	record.CorrectionAttempts++
	record.CorrectionInFlight = false
	return *record, true
}

// Candidates returns up to limit job ids eligible for correction at now:
// processing, last updated longer than threshold ago, and with no fetch
// already in flight. Selection is FIFO by registration order so the
// longest-tracked stale jobs win the available slots.
func (s *Store) Candidates(now time.Time, threshold time.Duration, limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil
	}
	var ids []string
	for _, id := range s.order {
		record := s.records[id]
		if record.Status != StatusProcessing || record.CorrectionInFlight {
			continue
		}
		if now.Sub(record.LastUpdate) <= threshold {
			continue
		}
		ids = append(ids, id)
		if len(ids) == limit {
			break
		}
	}
	return ids
}

// List returns copies of all records in registration order.
func (s *Store) List() []JobRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]JobRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, *s.records[id])
	}
	return records
}

// InFlightCount returns the number of outstanding corrective fetches.
func (s *Store) InFlightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, record := range s.records {
		if record.CorrectionInFlight {
			count++
		}
	}
	return count
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

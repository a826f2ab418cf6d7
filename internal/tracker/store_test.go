package tracker

import (
	"testing"
	"time"
)

func TestStoreTrackRegistersOnce(t *testing.T) {
	store := NewStore()
	now := time.Now()

	first := store.Track("j1", StatusQueued, now)
	if first.Status != StatusQueued || !first.LastUpdate.Equal(now) {
		t.Fatalf("unexpected record: %+v", first)
	}

	// Re-tracking is a no-op and keeps the original record.
	second := store.Track("j1", StatusProcessing, now.Add(time.Minute))
	if second.Status != StatusQueued {
		t.Errorf("re-track should not overwrite status, got %s", second.Status)
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
}

func TestStoreApplyUpdateRefreshesTimestamp(t *testing.T) {
	store := NewStore()
	start := time.Now()
	store.Track("j1", StatusQueued, start)

	later := start.Add(20 * time.Second)
	record, ok := store.ApplyUpdate("j1", StatusProcessing, 0.25, later)
	if !ok {
		t.Fatal("ApplyUpdate should find tracked job")
	}
	if record.Status != StatusProcessing || record.Progress != 0.25 {
		t.Errorf("unexpected record: %+v", record)
	}
	if !record.LastUpdate.Equal(later) {
		t.Errorf("LastUpdate = %v, want %v", record.LastUpdate, later)
	}

	if _, ok := store.ApplyUpdate("ghost", StatusProcessing, 0, later); ok {
		t.Error("ApplyUpdate should report unknown jobs")
	}
}

func TestStoreApplyUpdateResetsAttemptsOnProcessingEntry(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now)

	store.MarkInFlight("j1")
	store.ResolveCorrection("j1", StatusProcessing, 0.1, now)
	if record, _ := store.Get("j1"); record.CorrectionAttempts != 1 {
		t.Fatalf("attempts = %d, want 1", record.CorrectionAttempts)
	}

	// Leaving and re-entering processing resets the counter.
	store.ApplyUpdate("j1", StatusQueued, 0, now)
	store.ApplyUpdate("j1", StatusProcessing, 0, now)
	if record, _ := store.Get("j1"); record.CorrectionAttempts != 0 {
		t.Errorf("attempts = %d, want 0 after re-entering processing", record.CorrectionAttempts)
	}
}

func TestStoreInFlightInvariant(t *testing.T) {
	store := NewStore()
	store.Track("j1", StatusProcessing, time.Now())

	if !store.MarkInFlight("j1") {
		t.Fatal("first MarkInFlight should succeed")
	}
	if store.MarkInFlight("j1") {
		t.Fatal("second MarkInFlight must fail while one is outstanding")
	}
	if store.MarkInFlight("unknown") {
		t.Fatal("MarkInFlight must fail for unknown jobs")
	}
	if store.InFlightCount() != 1 {
		t.Errorf("InFlightCount = %d, want 1", store.InFlightCount())
	}

	store.ClearInFlight("j1")
	if store.InFlightCount() != 0 {
		t.Errorf("InFlightCount = %d, want 0", store.InFlightCount())
	}
	if !store.MarkInFlight("j1") {
		t.Error("MarkInFlight should succeed after clear")
	}
}

func TestStoreCandidatesSelection(t *testing.T) {
	store := NewStore()
	now := time.Now()
	threshold := 30 * time.Second

	store.Track("stale-1", StatusProcessing, now.Add(-60*time.Second))
	store.Track("fresh", StatusProcessing, now.Add(-5*time.Second))
	store.Track("queued", StatusQueued, now.Add(-60*time.Second))
	store.Track("stale-2", StatusProcessing, now.Add(-45*time.Second))
	store.Track("busy", StatusProcessing, now.Add(-60*time.Second))
	store.MarkInFlight("busy")

	ids := store.Candidates(now, threshold, 10)
	if len(ids) != 2 || ids[0] != "stale-1" || ids[1] != "stale-2" {
		t.Fatalf("candidates = %v, want [stale-1 stale-2]", ids)
	}

	// Truncation is FIFO by registration order.
	ids = store.Candidates(now, threshold, 1)
	if len(ids) != 1 || ids[0] != "stale-1" {
		t.Fatalf("truncated candidates = %v, want [stale-1]", ids)
	}

	if ids := store.Candidates(now, threshold, 0); ids != nil {
		t.Errorf("zero limit should yield nil, got %v", ids)
	}
}

func TestStoreCandidatesExactThresholdNotStale(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("edge", StatusProcessing, now.Add(-30*time.Second))

	if ids := store.Candidates(now, 30*time.Second, 10); len(ids) != 0 {
		t.Errorf("record aged exactly threshold should not be stale, got %v", ids)
	}
}

func TestStoreRemove(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now)
	store.Track("j2", StatusProcessing, now)

	store.Remove("j1")
	if _, ok := store.Get("j1"); ok {
		t.Fatal("removed job should be gone")
	}
	if store.Len() != 1 {
		t.Errorf("Len = %d, want 1", store.Len())
	}
	records := store.List()
	if len(records) != 1 || records[0].ID != "j2" {
		t.Errorf("List = %+v, want [j2]", records)
	}

	// Removing twice is harmless.
	store.Remove("j1")
}

func TestStoreResolveCorrection(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-time.Minute))
	store.MarkInFlight("j1")

	record, ok := store.ResolveCorrection("j1", StatusProcessing, 0.4, now)
	if !ok {
		t.Fatal("ResolveCorrection should find tracked job")
	}
	if record.CorrectionAttempts != 1 || record.CorrectionInFlight {
		t.Errorf("unexpected record: %+v", record)
	}
	if record.Progress != 0.4 || !record.LastUpdate.Equal(now) {
		t.Errorf("result not applied: %+v", record)
	}

	if _, ok := store.ResolveCorrection("ghost", StatusCompleted, 1, now); ok {
		t.Error("ResolveCorrection should report untracked jobs")
	}
}

func TestStoreListIsCopy(t *testing.T) {
	store := NewStore()
	store.Track("j1", StatusProcessing, time.Now())

	records := store.List()
	records[0].Status = StatusFailed

	if record, _ := store.Get("j1"); record.Status != StatusProcessing {
		t.Error("List must return copies, store was mutated")
	}
}

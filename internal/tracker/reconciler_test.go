package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"quill/internal/backend"
	"quill/internal/logging"
)

// fakeFetcher serves scripted results per job id, falling back to an
// in-progress report. When block is set, every fetch waits for the channel
// to close before returning.
type fakeFetcher struct {
	mu      sync.Mutex
	results map[string][]backend.Job
	err     error
	block   chan struct{}
	calls   int
}

func (f *fakeFetcher) JobStatus(ctx context.Context, id string) (backend.Job, error) {
	f.mu.Lock()
	f.calls++
	var job backend.Job
	if queue := f.results[id]; len(queue) > 0 {
		job = queue[0]
		f.results[id] = queue[1:]
	} else {
		job = backend.Job{ID: id, Status: "processing", Progress: 0.5}
	}
	err := f.err
	block := f.block
	f.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return backend.Job{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Job{}, err
	}
	return job, nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeFetcher) script(id string, jobs ...backend.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.results == nil {
		f.results = make(map[string][]backend.Job)
	}
	f.results[id] = append(f.results[id], jobs...)
}

type updateRecorder struct {
	mu      sync.Mutex
	records []JobRecord
}

func (u *updateRecorder) add(record JobRecord) {
	u.mu.Lock()
	u.records = append(u.records, record)
	u.mu.Unlock()
}

func (u *updateRecorder) snapshot() []JobRecord {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]JobRecord, len(u.records))
	copy(out, u.records)
	return out
}

func testReconcilerConfig() ReconcilerConfig {
	return ReconcilerConfig{
		Interval:       10 * time.Second,
		StaleThreshold: 30 * time.Second,
		MaxConcurrent:  5,
		FetchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

func newTestReconciler(t *testing.T, store *Store, fetcher backend.StatusFetcher, cfg ReconcilerConfig, onUpdate func(JobRecord)) *Reconciler {
	t.Helper()
	reconciler, err := NewReconciler(store, fetcher, cfg, logging.NewNop(), onUpdate)
	if err != nil {
		t.Fatalf("NewReconciler failed: %v", err)
	}
	return reconciler
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReconcilerCorrectsStaleJob(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	fetcher := &fakeFetcher{}
	fetcher.script("j1", backend.Job{ID: "j1", Status: "processing", Progress: 0.7})
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	record, ok := store.Get("j1")
	if !ok {
		t.Fatal("job should remain tracked")
	}
	if record.Progress != 0.7 || record.CorrectionAttempts != 1 || record.CorrectionInFlight {
		t.Errorf("unexpected record after correction: %+v", record)
	}
	if got := updates.snapshot(); len(got) != 1 || got[0].ID != "j1" {
		t.Errorf("updates = %+v, want one for j1", got)
	}
}

func TestReconcilerSkipsFreshJobs(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("fresh", StatusProcessing, now.Add(-10*time.Second))
	store.Track("done", StatusCompleted, now.Add(-60*time.Second))

	fetcher := &fakeFetcher{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), nil)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	if fetcher.callCount() != 0 {
		t.Errorf("fetch calls = %d, want 0", fetcher.callCount())
	}
}

func TestReconcilerSingleCorrectionPerJob(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	block := make(chan struct{})
	fetcher := &fakeFetcher{block: block}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), nil)

	reconciler.tick(context.Background(), now)
	waitFor(t, "first fetch to start", func() bool { return fetcher.callCount() == 1 })

	// While the fetch is outstanding the job must not be redispatched.
	reconciler.tick(context.Background(), now)
	reconciler.tick(context.Background(), now)
	if got := fetcher.callCount(); got != 1 {
		t.Fatalf("fetch calls = %d, want 1 while in flight", got)
	}

	close(block)
	reconciler.wg.Wait()
	if store.InFlightCount() != 0 {
		t.Errorf("in flight = %d after settle, want 0", store.InFlightCount())
	}
}

func TestReconcilerConcurrencyCap(t *testing.T) {
	store := NewStore()
	now := time.Now()
	ids := []string{"j1", "j2", "j3", "j4", "j5", "j6", "j7"}
	fetcher := &fakeFetcher{block: make(chan struct{})}
	for _, id := range ids {
		store.Track(id, StatusProcessing, now.Add(-60*time.Second))
		fetcher.script(id, backend.Job{ID: id, Status: "completed", Progress: 1})
	}

	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), nil)

	reconciler.tick(context.Background(), now)
	waitFor(t, "five fetches to start", func() bool { return fetcher.callCount() == 5 })
	if store.InFlightCount() != 5 {
		t.Fatalf("in flight = %d, want 5", store.InFlightCount())
	}

	// The budget is exhausted; another tick dispatches nothing.
	reconciler.tick(context.Background(), now)
	if store.InFlightCount() != 5 {
		t.Fatalf("in flight = %d after saturated tick, want 5", store.InFlightCount())
	}
	if got := fetcher.callCount(); got != 5 {
		t.Fatalf("fetch calls = %d, want 5", got)
	}

	fetcher.mu.Lock()
	close(fetcher.block)
	fetcher.block = nil
	fetcher.mu.Unlock()
	reconciler.wg.Wait()

	// The first five resolved terminal and left the store; the freed budget
	// serves the remaining two.
	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	if got := fetcher.callCount(); got != 7 {
		t.Errorf("fetch calls = %d, want 7", got)
	}
	if store.Len() != 0 {
		t.Errorf("tracked jobs = %d, want 0", store.Len())
	}
}

func TestReconcilerFetchErrorKeepsPriorStatus(t *testing.T) {
	store := NewStore()
	now := time.Now()
	staleAt := now.Add(-60 * time.Second)
	store.Track("j1", StatusProcessing, staleAt)

	fetcher := &fakeFetcher{err: errors.New("backend down")}
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	record, _ := store.Get("j1")
	if record.Status != StatusProcessing || !record.LastUpdate.Equal(staleAt) {
		t.Errorf("failed fetch must not mutate the record: %+v", record)
	}
	if record.CorrectionInFlight {
		t.Error("correction slot should be released after a failed fetch")
	}
	if len(updates.snapshot()) != 0 {
		t.Error("failed fetch must not report an update")
	}

	// The job stays a candidate and is retried next tick.
	fetcher.mu.Lock()
	fetcher.err = nil
	fetcher.mu.Unlock()
	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()
	if got := fetcher.callCount(); got != 2 {
		t.Errorf("fetch calls = %d, want 2", got)
	}
}

func TestReconcilerUnknownStatusKeepsPriorStatus(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	fetcher := &fakeFetcher{}
	fetcher.script("j1", backend.Job{ID: "j1", Status: "exploded", Progress: 1})
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	record, _ := store.Get("j1")
	if record.Status != StatusProcessing || record.CorrectionAttempts != 0 {
		t.Errorf("unknown status must not be applied: %+v", record)
	}
	if len(updates.snapshot()) != 0 {
		t.Error("unknown status must not report an update")
	}
}

func TestReconcilerTerminalResultRemovesJob(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	fetcher := &fakeFetcher{}
	fetcher.script("j1", backend.Job{ID: "j1", Status: "completed", Progress: 1})
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()

	if _, ok := store.Get("j1"); ok {
		t.Error("terminal job should be removed from tracking")
	}
	got := updates.snapshot()
	if len(got) != 1 || got[0].Status != StatusCompleted {
		t.Errorf("updates = %+v, want one completed report", got)
	}

	// No further fetches for a removed job.
	reconciler.tick(context.Background(), now.Add(time.Minute))
	reconciler.wg.Wait()
	if fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", fetcher.callCount())
	}
}

func TestReconcilerStopDiscardsLateResults(t *testing.T) {
	store := NewStore()
	now := time.Now()
	staleAt := now.Add(-60 * time.Second)
	store.Track("j1", StatusProcessing, staleAt)

	block := make(chan struct{})
	fetcher := &fakeFetcher{block: block}
	fetcher.script("j1", backend.Job{ID: "j1", Status: "completed", Progress: 1})
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	waitFor(t, "fetch to start", func() bool { return fetcher.callCount() == 1 })

	stopped := make(chan struct{})
	go func() {
		reconciler.Stop()
		close(stopped)
	}()
	waitFor(t, "stop to mark teardown", func() bool { return reconciler.closed.Load() })
	close(block)
	<-stopped

	record, ok := store.Get("j1")
	if !ok {
		t.Fatal("late terminal result must not remove the job")
	}
	if record.Status != StatusProcessing || !record.LastUpdate.Equal(staleAt) {
		t.Errorf("late result must not mutate the record: %+v", record)
	}
	if len(updates.snapshot()) != 0 {
		t.Error("late result must not report an update")
	}
}

func TestReconcilerUntrackedDuringFetch(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	block := make(chan struct{})
	fetcher := &fakeFetcher{block: block}
	updates := &updateRecorder{}
	reconciler := newTestReconciler(t, store, fetcher, testReconcilerConfig(), updates.add)

	reconciler.tick(context.Background(), now)
	waitFor(t, "fetch to start", func() bool { return fetcher.callCount() == 1 })

	store.Remove("j1")
	close(block)
	reconciler.wg.Wait()

	if _, ok := store.Get("j1"); ok {
		t.Error("job should stay removed")
	}
	if len(updates.snapshot()) != 0 {
		t.Error("result for an untracked job must not be reported")
	}
}

func TestReconcilerDisabledNeverDispatches(t *testing.T) {
	store := NewStore()
	now := time.Now()
	store.Track("j1", StatusProcessing, now.Add(-60*time.Second))

	cfg := testReconcilerConfig()
	cfg.Enabled = false
	fetcher := &fakeFetcher{}
	reconciler := newTestReconciler(t, store, fetcher, cfg, nil)

	reconciler.tick(context.Background(), now)
	reconciler.wg.Wait()
	if fetcher.callCount() != 0 {
		t.Errorf("disabled reconciler dispatched %d fetches", fetcher.callCount())
	}
}

func TestNewReconcilerValidation(t *testing.T) {
	store := NewStore()
	fetcher := &fakeFetcher{}

	cases := []struct {
		name   string
		mutate func(*ReconcilerConfig)
	}{
		{"zero interval", func(c *ReconcilerConfig) { c.Interval = 0 }},
		{"zero threshold", func(c *ReconcilerConfig) { c.StaleThreshold = 0 }},
		{"zero concurrency", func(c *ReconcilerConfig) { c.MaxConcurrent = 0 }},
		{"negative concurrency", func(c *ReconcilerConfig) { c.MaxConcurrent = -1 }},
		{"zero fetch timeout", func(c *ReconcilerConfig) { c.FetchTimeout = 0 }},
	}
	for _, tc := range cases {
		cfg := testReconcilerConfig()
		tc.mutate(&cfg)
		if _, err := NewReconciler(store, fetcher, cfg, logging.NewNop(), nil); err == nil {
			t.Errorf("%s: expected configuration error", tc.name)
		}
	}

	if _, err := NewReconciler(nil, fetcher, testReconcilerConfig(), logging.NewNop(), nil); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewReconciler(store, nil, testReconcilerConfig(), logging.NewNop(), nil); err == nil {
		t.Error("expected error for nil fetcher")
	}
}

package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"quill/internal/backend"
	"quill/internal/logging"
)

// ReconcilerConfig holds the polling parameters.
type ReconcilerConfig struct {
	// Interval is the tick period.
	Interval time.Duration
	// StaleThreshold is the record age beyond which a job is untrustworthy.
	StaleThreshold time.Duration
	// MaxConcurrent caps corrective fetches in flight system-wide.
	MaxConcurrent int
	// FetchTimeout bounds each corrective fetch.
	FetchTimeout time.Duration
	// Enabled is the kill switch; a disabled reconciler ticks but never
	// dispatches.
	Enabled bool
}

func (c ReconcilerConfig) validate() error {
	if c.Interval <= 0 {
		return errors.New("reconciler interval must be positive")
	}
	if c.StaleThreshold <= 0 {
		return errors.New("reconciler stale threshold must be positive")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("reconciler max concurrent polls must be positive, got %d", c.MaxConcurrent)
	}
	if c.FetchTimeout <= 0 {
		return errors.New("reconciler fetch timeout must be positive")
	}
	return nil
}

// Reconciler corrects stale job records by fetching their authoritative
// status. Each tick it selects processing jobs the push channel has gone
// quiet on, claims the free share of the concurrency budget, and dispatches
// the fetches concurrently. Fetch failures keep the prior status and leave
// the job a candidate for the next tick; there is no per-job backoff since
// the global cap already bounds load.
type Reconciler struct {
	store    *Store
	fetcher  backend.StatusFetcher
	cfg      ReconcilerConfig
	logger   *slog.Logger
	onUpdate func(JobRecord)

	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// NewReconciler validates the configuration and builds a reconciler.
// Configuration errors fail here, never at runtime.
func NewReconciler(store *Store, fetcher backend.StatusFetcher, cfg ReconcilerConfig, logger *slog.Logger, onUpdate func(JobRecord)) (*Reconciler, error) {
	if store == nil {
		return nil, errors.New("reconciler requires store")
	}
	if fetcher == nil {
		return nil, errors.New("reconciler requires status fetcher")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Reconciler{
		store:    store,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "reconciler"),
		onUpdate: onUpdate,
	}, nil
}

// Start launches the tick loop until Stop or context cancellation.
func (r *Reconciler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case now := <-ticker.C:
				r.tick(runCtx, now)
			}
		}
	}()
}

// Stop cancels the tick loop and waits for dispatched fetches to settle.
// Results arriving after Stop mutate nothing: the liveness flag is checked
// before every state write.
func (r *Reconciler) Stop() {
	r.closed.Store(true)
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// tick runs one reconciliation pass at the given instant.
func (r *Reconciler) tick(ctx context.Context, now time.Time) {
	if !r.cfg.Enabled || r.closed.Load() {
		return
	}

	free := r.cfg.MaxConcurrent - r.store.InFlightCount()
	if free <= 0 {
		return
	}

	candidates := r.store.Candidates(now, r.cfg.StaleThreshold, free)
	if len(candidates) == 0 {
		return
	}

	dispatched := 0
	for _, id := range candidates {
		if !r.store.MarkInFlight(id) {
			continue
		}
		dispatched++
		r.wg.Add(1)
		go func(id string) {
			defer r.wg.Done()
			r.correct(ctx, id)
		}(id)
	}

	if dispatched > 0 {
		r.logger.Debug("dispatched corrective fetches",
			logging.Int("dispatched", dispatched),
			logging.Int("in_flight", r.store.InFlightCount()))
	}
}

// correct fetches one job's authoritative status and applies the result.
func (r *Reconciler) correct(ctx context.Context, id string) {
	fetchCtx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	job, err := r.fetcher.JobStatus(fetchCtx, id)
	cancel()

	if r.closed.Load() {
		r.logger.Debug("discarding late correction result", logging.String(logging.FieldJobID, id))
		return
	}

	if err != nil {
		// Prior status stays untouched; the job remains a candidate.
		r.store.ClearInFlight(id)
		r.logger.Warn("corrective fetch failed",
			logging.String(logging.FieldJobID, id),
			logging.Error(err))
		return
	}

	status, ok := ParseStatus(job.Status)
	if !ok {
		r.store.ClearInFlight(id)
		r.logger.Warn("corrective fetch returned unknown status",
			logging.String(logging.FieldJobID, id),
			logging.String("status", job.Status))
		return
	}

	record, ok := r.store.ResolveCorrection(id, status, job.Progress, time.Now())
	if !ok {
		// Untracked while the fetch was outstanding.
		r.logger.Debug("correction resolved for untracked job", logging.String(logging.FieldJobID, id))
		return
	}

	if status.IsTerminal() {
		r.store.Remove(id)
		r.logger.Info("job reached terminal state via correction",
			logging.String(logging.FieldJobID, id),
			logging.String("status", string(status)),
			logging.Int("correction_attempts", record.CorrectionAttempts))
	}

	if r.onUpdate != nil {
		r.onUpdate(record)
	}
}

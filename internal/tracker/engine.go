package tracker

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"quill/internal/backend"
	"quill/internal/logging"
	"quill/internal/push"
)

// Options configures an Engine.
type Options struct {
	Fetcher    backend.StatusFetcher
	Prober     backend.Prober
	Reconciler ReconcilerConfig
	Health     HealthOptions
	Logger     *slog.Logger
	// OnUpdate receives every authoritative record change: corrective fetch
	// results and push events, including the final terminal report.
	OnUpdate func(JobRecord)
	// OnHealthChange receives healthy-flag transitions.
	OnHealthChange func(healthy bool)
}

// Engine is the owning aggregate for the reconciliation state: one store,
// one health monitor, one reconciler, exposed behind a single API. All
// writes flow through it; callers get copies.
type Engine struct {
	store      *Store
	monitor    *Monitor
	reconciler *Reconciler
	logger     *slog.Logger
	onUpdate   func(JobRecord)
	closed     atomic.Bool
}

// NewEngine wires the store, health monitor, and reconciler together.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Fetcher == nil || opts.Prober == nil {
		return nil, errors.New("engine requires backend fetcher and prober")
	}

	logger := opts.Logger
	store := NewStore()

	engine := &Engine{
		store:    store,
		logger:   logging.WithComponent(logger, "engine"),
		onUpdate: opts.OnUpdate,
	}

	health := opts.Health
	health.Logger = logger
	health.OnChange = opts.OnHealthChange
	monitor, err := NewMonitor(opts.Prober, health)
	if err != nil {
		return nil, err
	}

	reconciler, err := NewReconciler(store, opts.Fetcher, opts.Reconciler, logger, engine.notify)
	if err != nil {
		return nil, err
	}

	engine.monitor = monitor
	engine.reconciler = reconciler
	return engine, nil
}

// Start launches the health monitor and the reconciliation loop.
func (e *Engine) Start(ctx context.Context) {
	e.monitor.Start(ctx)
	e.reconciler.Start(ctx)
	e.logger.Info("reconciliation engine started")
}

// Stop tears the engine down: pending timers are cleared and results of
// still-outstanding fetches are discarded.
func (e *Engine) Stop() {
	if e.closed.Swap(true) {
		return
	}
	e.reconciler.Stop()
	e.monitor.Close()
	e.logger.Info("reconciliation engine stopped")
}

// Track begins tracking a job. A job with no prior record is registered
// with a fresh LastUpdate so the push channel gets a full staleness window
// before the first correction.
func (e *Engine) Track(id string, status Status) (JobRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return JobRecord{}, errors.New("job id must not be empty")
	}
	if status == "" {
		status = StatusProcessing
	}
	record := e.store.Track(id, status, time.Now())
	e.logger.Debug("tracking job",
		logging.String(logging.FieldJobID, id),
		logging.String("status", string(record.Status)))
	return record, nil
}

// Untrack stops tracking a job. An outstanding corrective fetch for it is
// left to complete; its result is discarded because the record is gone.
func (e *Engine) Untrack(id string) {
	e.store.Remove(id)
	e.logger.Debug("untracked job", logging.String(logging.FieldJobID, id))
}

// NotifyProgress is the out-of-band entry point for push events observed by
// the caller. It refreshes the record's timestamp and progress, which
// removes the job from the next tick's stale-candidate set; a healthy push
// channel thereby fully suppresses polling. Unknown jobs are registered as
// processing.
func (e *Engine) NotifyProgress(id string, progress float64) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	if _, ok := e.store.Touch(id, progress, time.Now()); !ok {
		e.store.Track(id, StatusProcessing, time.Now())
		e.store.Touch(id, progress, time.Now())
	}
}

// HandleEvent applies a normalized push event. Progress updates are
// authoritative for freshness but advisory for terminal states; a terminal
// push report still removes the job from tracking (the store never polls
// terminal jobs again).
func (e *Engine) HandleEvent(event push.Event) {
	switch event.Type {
	case push.EventProgressUpdate:
		e.applyPushUpdate(event)
	case push.EventConnectionHealthChanged:
		e.monitor.HandleConnectionChange(event.Healthy)
	default:
		e.logger.Debug("ignoring unknown push event", logging.String(logging.FieldEventType, string(event.Type)))
	}
}

func (e *Engine) applyPushUpdate(event push.Event) {
	status, ok := ParseStatus(event.Status)
	if !ok {
		e.NotifyProgress(event.JobID, event.Progress)
		return
	}

	now := time.Now()
	record, tracked := e.store.ApplyUpdate(event.JobID, status, event.Progress, now)
	if !tracked {
		record = e.store.Track(event.JobID, status, now)
		record, _ = e.store.ApplyUpdate(event.JobID, status, event.Progress, now)
	}

	if status.IsTerminal() {
		e.store.Remove(event.JobID)
		e.logger.Info("job reached terminal state via push",
			logging.String(logging.FieldJobID, event.JobID),
			logging.String("status", string(status)))
	}
	e.notify(record)
}

// notify forwards record changes to the caller's callback, suppressing
// delivery after teardown.
func (e *Engine) notify(record JobRecord) {
	if e.closed.Load() || e.onUpdate == nil {
		return
	}
	e.onUpdate(record)
}

// RetryHealthCheck cancels any pending backoff timer and probes immediately.
func (e *Engine) RetryHealthCheck() {
	e.monitor.RetryNow()
}

// Job returns the record for id.
func (e *Engine) Job(id string) (JobRecord, bool) {
	return e.store.Get(id)
}

// Jobs returns all tracked records in registration order.
func (e *Engine) Jobs() []JobRecord {
	return e.store.List()
}

// Health returns the current backend health snapshot.
func (e *Engine) Health() HealthState {
	return e.monitor.Snapshot()
}

// InFlightCorrections returns the number of outstanding corrective fetches,
// for diagnostics.
func (e *Engine) InFlightCorrections() int {
	return e.store.InFlightCount()
}

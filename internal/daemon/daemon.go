package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"quill/internal/backend"
	"quill/internal/config"
	"quill/internal/logging"
	"quill/internal/notifications"
	"quill/internal/push"
	"quill/internal/tracker"
)

const notifyTimeout = 10 * time.Second

// Daemon coordinates the tracking services and enforces single-instance execution.
type Daemon struct {
	cfg        *config.Config
	logger     *slog.Logger
	engine     *tracker.Engine
	subscriber *push.Subscriber
	notifier   notifications.Service
	logPath    string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running             bool
	Health              tracker.HealthState
	TrackedJobs         int
	InFlightCorrections int
	PollingEnabled      bool
	PushEnabled         bool
	LockFilePath        string
	SocketPath          string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || logger == nil {
		return nil, errors.New("daemon requires config and logger")
	}

	client, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.APIToken, cfg.RequestTimeout())
	if err != nil {
		return nil, fmt.Errorf("build backend client: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		notifier: notifications.NewService(cfg),
		logPath:  cfg.LogPath(),
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}

	engine, err := tracker.NewEngine(tracker.Options{
		Fetcher: client,
		Prober:  client,
		Reconciler: tracker.ReconcilerConfig{
			Interval:       cfg.PollingInterval(),
			StaleThreshold: cfg.StaleThreshold(),
			MaxConcurrent:  cfg.Polling.MaxConcurrent,
			FetchTimeout:   cfg.RequestTimeout(),
			Enabled:        cfg.Polling.Enabled,
		},
		Health: tracker.HealthOptions{
			BaseDelay:    cfg.HealthBaseDelay(),
			MaxDelay:     cfg.HealthMaxDelay(),
			ProbeTimeout: cfg.HealthProbeTimeout(),
		},
		Logger:         logger,
		OnUpdate:       d.handleUpdate,
		OnHealthChange: d.handleHealthChange,
	})
	if err != nil {
		return nil, fmt.Errorf("build reconciliation engine: %w", err)
	}
	d.engine = engine

	if cfg.Push.Enabled {
		subscriber, err := push.NewSubscriber(push.Options{
			BaseURL:           cfg.Backend.BaseURL,
			APIToken:          cfg.Backend.APIToken,
			ReconnectDelay:    cfg.PushReconnectDelay(),
			MaxReconnectDelay: cfg.PushMaxReconnectDelay(),
			Logger:            logger,
		}, engine.HandleEvent)
		if err != nil {
			return nil, fmt.Errorf("build event stream subscriber: %w", err)
		}
		d.subscriber = subscriber
	}

	return d, nil
}

// Start launches the engine and event stream and acquires the daemon lock.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another quill daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.ctx = runCtx
	d.cancel = cancel
	d.mu.Unlock()

	d.engine.Start(runCtx)
	if d.subscriber != nil {
		d.subscriber.Start(runCtx)
	}

	d.running.Store(true)
	d.logger.Info("quill daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.ctx = nil
	d.mu.Unlock()

	if d.subscriber != nil {
		d.subscriber.Stop()
	}
	d.engine.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("quill daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return nil
}

// TrackJob registers a job for status tracking.
func (d *Daemon) TrackJob(id, status string) (tracker.JobRecord, error) {
	parsed := tracker.Status("")
	if trimmed := strings.TrimSpace(status); trimmed != "" {
		var ok bool
		parsed, ok = tracker.ParseStatus(trimmed)
		if !ok {
			return tracker.JobRecord{}, fmt.Errorf("unknown job status %q", status)
		}
		if parsed.IsTerminal() {
			return tracker.JobRecord{}, fmt.Errorf("cannot track job in terminal status %q", status)
		}
	}
	return d.engine.Track(id, parsed)
}

// UntrackJob stops tracking a job.
func (d *Daemon) UntrackJob(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("job id is required")
	}
	d.engine.Untrack(id)
	return nil
}

// Jobs returns all tracked job records.
func (d *Daemon) Jobs() []tracker.JobRecord {
	return d.engine.Jobs()
}

// Job returns the record for a single tracked job.
func (d *Daemon) Job(id string) (tracker.JobRecord, bool) {
	return d.engine.Job(id)
}

// RetryHealthCheck probes the backend immediately, skipping any backoff wait.
func (d *Daemon) RetryHealthCheck() {
	d.engine.RetryHealthCheck()
}

// TestNotification triggers a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.notifier.TestNotification(ctx); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	return Status{
		Running:             d.running.Load(),
		Health:              d.engine.Health(),
		TrackedJobs:         len(d.engine.Jobs()),
		InFlightCorrections: d.engine.InFlightCorrections(),
		PollingEnabled:      d.cfg.Polling.Enabled,
		PushEnabled:         d.cfg.Push.Enabled,
		LockFilePath:        d.lockPath,
		SocketPath:          d.cfg.SocketPath(),
	}
}

// handleUpdate receives authoritative record changes from the engine and
// forwards terminal outcomes to the notifier.
func (d *Daemon) handleUpdate(record tracker.JobRecord) {
	if !record.Status.IsTerminal() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		var err error
		switch record.Status {
		case tracker.StatusCompleted:
			err = d.notifier.NotifyJobCompleted(ctx, record.ID)
		case tracker.StatusFailed:
			err = d.notifier.NotifyJobFailed(ctx, record.ID)
		}
		if err != nil {
			d.logger.Warn("job notification failed",
				logging.String(logging.FieldJobID, record.ID),
				logging.Error(err))
		}
	}()
}

// handleHealthChange forwards backend reachability transitions to the notifier.
func (d *Daemon) handleHealthChange(healthy bool) {
	failures := d.engine.Health().ConsecutiveFailures
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		var err error
		if healthy {
			err = d.notifier.NotifyBackendRecovered(ctx)
		} else {
			err = d.notifier.NotifyBackendUnreachable(ctx, failures)
		}
		if err != nil {
			d.logger.Warn("health notification failed", logging.Error(err))
		}
	}()
}

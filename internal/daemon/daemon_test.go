package daemon_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"quill/internal/daemon"
	"quill/internal/logging"
	"quill/internal/testsupport"
)

func newBackendStub(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":       "job-1",
				"status":   "processing",
				"progress": 0.5,
			})
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestDaemon(t *testing.T) *daemon.Daemon {
	t.Helper()
	server := newBackendStub(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))
	d, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func TestDaemonStartStop(t *testing.T) {
	d := newTestDaemon(t)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !d.Status().Running {
		t.Fatal("daemon should report running")
	}
	if err := d.Start(context.Background()); err == nil {
		t.Fatal("second start should fail while running")
	}

	d.Stop()
	if d.Status().Running {
		t.Fatal("daemon should report stopped")
	}
	// Stopping twice is harmless.
	d.Stop()
}

func TestDaemonSingleInstanceLock(t *testing.T) {
	server := newBackendStub(t)
	cfg := testsupport.NewConfig(t, testsupport.WithBackendURL(server.URL))

	first, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { _ = first.Close() })
	if err := first.Start(context.Background()); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	second, err := daemon.New(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New failed: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	if err := second.Start(context.Background()); err == nil {
		t.Fatal("second instance should fail to acquire the lock")
	}

	first.Stop()
	if err := second.Start(context.Background()); err != nil {
		t.Fatalf("start after lock release failed: %v", err)
	}
}

func TestDaemonTrackJob(t *testing.T) {
	d := newTestDaemon(t)

	record, err := d.TrackJob("job-1", "")
	if err != nil {
		t.Fatalf("TrackJob failed: %v", err)
	}
	if record.ID != "job-1" {
		t.Errorf("record id = %q, want job-1", record.ID)
	}

	if _, err := d.TrackJob("job-2", "nonsense"); err == nil {
		t.Error("unknown status should be rejected")
	}
	if _, err := d.TrackJob("job-3", "completed"); err == nil {
		t.Error("terminal status should be rejected")
	}

	if got := len(d.Jobs()); got != 1 {
		t.Fatalf("tracked jobs = %d, want 1", got)
	}

	if err := d.UntrackJob("job-1"); err != nil {
		t.Fatalf("UntrackJob failed: %v", err)
	}
	if _, ok := d.Job("job-1"); ok {
		t.Error("untracked job should be gone")
	}
	if err := d.UntrackJob("  "); err == nil {
		t.Error("blank job id should be rejected")
	}
}

func TestDaemonStatusFields(t *testing.T) {
	d := newTestDaemon(t)

	status := d.Status()
	if status.Running {
		t.Error("daemon should not report running before start")
	}
	if !status.PollingEnabled {
		t.Error("polling should be enabled by default")
	}
	if status.LockFilePath == "" || status.SocketPath == "" {
		t.Errorf("status paths missing: %+v", status)
	}
	if !status.Health.Healthy {
		t.Error("health should start optimistic")
	}
}

func TestDaemonTestNotificationWithoutTopic(t *testing.T) {
	d := newTestDaemon(t)

	sent, message, err := d.TestNotification(context.Background())
	if err != nil {
		t.Fatalf("TestNotification failed: %v", err)
	}
	if sent {
		t.Error("notification should not be sent without a topic")
	}
	if message == "" {
		t.Error("expected an explanatory message")
	}
}

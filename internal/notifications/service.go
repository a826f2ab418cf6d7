package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"quill/internal/config"
)

const userAgent = "Quill-Go/0.1.0"

// Service defines the notification surface exposed to the daemon.
type Service interface {
	NotifyJobCompleted(ctx context.Context, jobID string) error
	NotifyJobFailed(ctx context.Context, jobID string) error
	NotifyBackendUnreachable(ctx context.Context, consecutiveFailures int) error
	NotifyBackendRecovered(ctx context.Context) error
	TestNotification(ctx context.Context) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	return &ntfyService{
		endpoint:      topic,
		client:        client,
		jobCompleted:  cfg.Notifications.JobCompleted,
		jobFailed:     cfg.Notifications.JobFailed,
		backendHealth: cfg.Notifications.BackendHealth,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint      string
	client        *http.Client
	jobCompleted  bool
	jobFailed     bool
	backendHealth bool
}

func (n *ntfyService) NotifyJobCompleted(ctx context.Context, jobID string) error {
	if !n.jobCompleted {
		return nil
	}
	jobID = strings.TrimSpace(jobID)
	data := payload{
		title:   "Quill - Job Complete",
		message: fmt.Sprintf("Transcription complete: %s", jobID),
		tags:    []string{"quill", "job", "completed"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, jobID string) error {
	if !n.jobFailed {
		return nil
	}
	jobID = strings.TrimSpace(jobID)
	data := payload{
		title:    "Quill - Job Failed",
		message:  fmt.Sprintf("Transcription failed: %s", jobID),
		tags:     []string{"quill", "job", "failed"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackendUnreachable(ctx context.Context, consecutiveFailures int) error {
	if !n.backendHealth {
		return nil
	}
	message := "Transcription backend unreachable"
	if consecutiveFailures > 1 {
		message = fmt.Sprintf("%s (%d consecutive probe failures)", message, consecutiveFailures)
	}
	data := payload{
		title:    "Quill - Backend Unreachable",
		message:  message,
		tags:     []string{"quill", "backend", "alert"},
		priority: "high",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) NotifyBackendRecovered(ctx context.Context) error {
	if !n.backendHealth {
		return nil
	}
	data := payload{
		title:   "Quill - Backend Recovered",
		message: "Transcription backend reachable again",
		tags:    []string{"quill", "backend", "recovered"},
	}
	return n.send(ctx, data)
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	data := payload{
		title:    "Quill - Test",
		message:  "Notification system test",
		tags:     []string{"quill", "test"},
		priority: "low",
	}
	return n.send(ctx, data)
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobCompleted(context.Context, string) error    { return nil }
func (noopService) NotifyJobFailed(context.Context, string) error       { return nil }
func (noopService) NotifyBackendUnreachable(context.Context, int) error { return nil }
func (noopService) NotifyBackendRecovered(context.Context) error        { return nil }
func (noopService) TestNotification(context.Context) error              { return nil }

package ipc

import "time"

// StartRequest triggers daemon tracking startup.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops daemon tracking.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse represents combined daemon and backend health information.
type StatusResponse struct {
	Running             bool          `json:"running"`
	Healthy             bool          `json:"healthy"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	NextHealthCheck     time.Duration `json:"next_health_check"`
	TrackedJobs         int           `json:"tracked_jobs"`
	InFlightCorrections int           `json:"in_flight_corrections"`
	PollingEnabled      bool          `json:"polling_enabled"`
	PushEnabled         bool          `json:"push_enabled"`
	LockPath            string        `json:"lock_path"`
	SocketPath          string        `json:"socket_path"`
	PID                 int           `json:"pid"`
}

// Job is the wire representation of a tracked job record.
type Job struct {
	ID                 string    `json:"id"`
	Status             string    `json:"status"`
	Progress           float64   `json:"progress"`
	LastUpdate         time.Time `json:"last_update"`
	CorrectionAttempts int       `json:"correction_attempts"`
	CorrectionInFlight bool      `json:"correction_in_flight"`
}

// JobListRequest filters job listing by status.
type JobListRequest struct {
	Statuses []string `json:"statuses"`
}

// JobListResponse contains tracked jobs.
type JobListResponse struct {
	Jobs []Job `json:"jobs"`
}

// JobDescribeRequest fetches a single tracked job by id.
type JobDescribeRequest struct {
	ID string `json:"id"`
}

// JobDescribeResponse contains a single tracked job.
type JobDescribeResponse struct {
	Job Job `json:"job"`
}

// TrackRequest registers a job for tracking. Status is optional and
// defaults to processing.
type TrackRequest struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// TrackResponse contains the registered record.
type TrackResponse struct {
	Job Job `json:"job"`
}

// UntrackRequest stops tracking a job.
type UntrackRequest struct {
	ID string `json:"id"`
}

// UntrackResponse indicates untrack result.
type UntrackResponse struct {
	Removed bool `json:"removed"`
}

// RetryHealthRequest triggers an immediate backend health probe.
type RetryHealthRequest struct{}

// RetryHealthResponse indicates the probe was requested.
type RetryHealthResponse struct {
	Triggered bool `json:"triggered"`
}

// TestNotificationRequest triggers a notification test.
type TestNotificationRequest struct{}

// TestNotificationResponse reports notification test outcome.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message"`
}

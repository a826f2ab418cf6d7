package push

// EventType identifies a normalized push event.
type EventType string

const (
	// EventProgressUpdate carries a job's latest reported status/progress.
	EventProgressUpdate EventType = "progress_update"
	// EventConnectionHealthChanged signals a backend connectivity transition.
	EventConnectionHealthChanged EventType = "connection_health_changed"
)

// Event is a normalized push-channel event.
type Event struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id,omitempty"`
	Progress  float64   `json:"progress,omitempty"`
	Status    string    `json:"status,omitempty"`
	Healthy   bool      `json:"healthy,omitempty"`
	Connected bool      `json:"connected,omitempty"`
}

// Handler consumes normalized push events.
type Handler func(Event)

// Package push subscribes to the backend's event stream and normalizes it
// into job progress and connection health events. The subscriber owns its
// reconnect loop; consumers treat the stream as best-effort and advisory.
package push

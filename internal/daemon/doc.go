// Package daemon owns the long-running tracking process: it wires the
// reconciliation engine to the backend client and the event stream, enforces
// single-instance execution via a lock file, and forwards terminal job states
// and backend health transitions to the notification service.
package daemon

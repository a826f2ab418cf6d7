// Package tracker implements the status reconciliation engine: an in-memory
// job status store fed by push events, a polling reconciler that issues
// bounded corrective fetches for jobs the push channel has gone quiet on,
// and a backend health monitor with exponential backoff.
//
// The engine owns all mutable state. Callers interact through registration,
// NotifyProgress, and read accessors; they never write job records directly.
package tracker

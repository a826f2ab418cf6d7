// Package backend provides the HTTP client for the transcription backend's
// job status and health endpoints. The client performs single requests with
// bounded timeouts; retry and backoff decisions belong to the callers.
package backend

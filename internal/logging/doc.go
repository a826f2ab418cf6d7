// Package logging builds slog loggers with quill's console and JSON
// handlers and provides typed attribute helpers shared across components.
package logging

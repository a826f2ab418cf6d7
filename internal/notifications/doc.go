// Package notifications delivers tracker events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Per-event toggles let users silence job completions, failures, or
// backend health alerts independently.
//
// Extend this package if you need alternative transports; daemon code depends
// only on the simple Service interface.
package notifications

// Package config loads, validates, and normalizes quill's TOML
// configuration file.
package config

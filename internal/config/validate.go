package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateBackend(); err != nil {
		return err
	}
	if err := c.validatePolling(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validatePush(); err != nil {
		return err
	}
	if err := c.validateNotifications(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateBackend() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return errors.New("backend.base_url must be set")
	}
	parsed, err := url.Parse(c.Backend.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("backend.base_url %q is not a valid URL", c.Backend.BaseURL)
	}
	if c.Backend.RequestTimeout <= 0 {
		return errors.New("backend.request_timeout must be positive (seconds)")
	}
	return nil
}

func (c *Config) validatePolling() error {
	if err := ensurePositiveMap(map[string]int{
		"polling.interval":        c.Polling.Interval,
		"polling.stale_threshold": c.Polling.StaleThreshold,
		"polling.max_concurrent":  c.Polling.MaxConcurrent,
	}); err != nil {
		return err
	}
	if c.Polling.StaleThreshold < c.Polling.Interval {
		return errors.New("polling.stale_threshold must be at least polling.interval")
	}
	return nil
}

func (c *Config) validateHealth() error {
	if err := ensurePositiveMap(map[string]int{
		"health.base_delay":    c.Health.BaseDelay,
		"health.max_delay":     c.Health.MaxDelay,
		"health.probe_timeout": c.Health.ProbeTimeout,
	}); err != nil {
		return err
	}
	if c.Health.MaxDelay < c.Health.BaseDelay {
		return errors.New("health.max_delay must be at least health.base_delay")
	}
	return nil
}

func (c *Config) validatePush() error {
	if !c.Push.Enabled {
		return nil
	}
	if err := ensurePositiveMap(map[string]int{
		"push.reconnect_delay":     c.Push.ReconnectDelay,
		"push.max_reconnect_delay": c.Push.MaxReconnectDelay,
	}); err != nil {
		return err
	}
	if c.Push.MaxReconnectDelay < c.Push.ReconnectDelay {
		return errors.New("push.max_reconnect_delay must be at least push.reconnect_delay")
	}
	return nil
}

func (c *Config) validateNotifications() error {
	if c.Notifications.RequestTimeout <= 0 {
		return errors.New("notifications.request_timeout must be positive (seconds)")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

package config

const (
	defaultLogDir                = "~/.local/share/quill/logs"
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultBackendBaseURL        = "http://127.0.0.1:8920"
	defaultBackendRequestTimeout = 10
	defaultPollingInterval       = 10
	defaultStaleThreshold        = 30
	defaultMaxConcurrentPolls    = 5
	defaultHealthBaseDelay       = 30
	defaultHealthMaxDelay        = 240
	defaultHealthProbeTimeout    = 10
	defaultPushReconnectDelay    = 5
	defaultPushMaxReconnectDelay = 60
	defaultNotifyRequestTimeout  = 10
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir: defaultLogDir,
		},
		Backend: Backend{
			BaseURL:        defaultBackendBaseURL,
			RequestTimeout: defaultBackendRequestTimeout,
		},
		Polling: Polling{
			Enabled:        true,
			Interval:       defaultPollingInterval,
			StaleThreshold: defaultStaleThreshold,
			MaxConcurrent:  defaultMaxConcurrentPolls,
		},
		Health: Health{
			BaseDelay:    defaultHealthBaseDelay,
			MaxDelay:     defaultHealthMaxDelay,
			ProbeTimeout: defaultHealthProbeTimeout,
		},
		Push: Push{
			Enabled:           true,
			ReconnectDelay:    defaultPushReconnectDelay,
			MaxReconnectDelay: defaultPushMaxReconnectDelay,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			BackendHealth:  true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}

package config

import "time"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0:8443",
			TLS:     TLSConfig{Auto: true},
		},
		H3: H3Config{
			QPACKMaxTableCapacity: 4096,
			QPACKBlockedStreams:   16,
			MaxFieldSectionSize:   64 * 1024,
			MaxPushID:             0,
		},
		Scheduler: SchedulerConfig{
			MaxConcurrentDrivers: 64,
			SubmitTimeout:        Duration(5 * time.Second),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Diagnostics: DiagnosticsConfig{
			TraceEnabled: false,
			TracePath:    "",
		},
	}
}

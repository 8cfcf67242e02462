package config

import "time"

// TestConfig returns a config suitable for testing. Callers point the
// database and thumbnail paths at a temporary directory.
func TestConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Timeout: 1 * time.Second,
		},
		Feed: FeedConfig{
			HTTPTimeout:       5 * time.Second,
			UserAgent:         "subwatch-test/1.0",
			URLTemplate:       DefaultFeedURLTemplate,
			AllowPrivateHosts: true, // httptest servers listen on loopback
		},
		Duration: DurationConfig{
			Endpoint:          DefaultDurationEndpoint,
			RequestsPerSecond: 1000,
			HTTPTimeout:       5 * time.Second,
		},
		Thumbnails: ThumbnailsConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level: "off",
		},
	}
}

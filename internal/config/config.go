package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Feed       FeedConfig       `mapstructure:"feed"`
	Duration   DurationConfig   `mapstructure:"duration"`
	Thumbnails ThumbnailsConfig `mapstructure:"thumbnails"`
	Log        LogConfig        `mapstructure:"log"`
}

type DatabaseConfig struct {
	Path        string        `mapstructure:"path"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SearchIndex string        `mapstructure:"search_index"`
}

type FeedConfig struct {
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	UserAgent   string        `mapstructure:"user_agent"`
	// URLTemplate receives the channel's external id through %s.
	URLTemplate string `mapstructure:"url_template"`
	// AllowPrivateHosts permits feed and thumbnail hosts on loopback or
	// private networks. Only useful for local mirrors and tests.
	AllowPrivateHosts bool `mapstructure:"allow_private_hosts"`
}

// DurationConfig configures the video duration lookup. An empty APIKey
// disables the lookup entirely.
type DurationConfig struct {
	APIKey            string        `mapstructure:"api_key"`
	Endpoint          string        `mapstructure:"endpoint"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	HTTPTimeout       time.Duration `mapstructure:"http_timeout"`
}

type ThumbnailsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

const (
	DefaultFeedURLTemplate  = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"
	DefaultDurationEndpoint = "https://www.googleapis.com/youtube/v3/videos"
)

func defaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".subwatch")

	return &Config{
		Database: DatabaseConfig{
			Path:        filepath.Join(dataDir, "subwatch.db"),
			Timeout:     1 * time.Second,
			SearchIndex: filepath.Join(dataDir, "index.bleve"),
		},
		Feed: FeedConfig{
			HTTPTimeout: 30 * time.Second,
			UserAgent:   "subwatch/1.0 (https://github.com/pders01/subwatch)",
			URLTemplate: DefaultFeedURLTemplate,
		},
		Duration: DurationConfig{
			Endpoint:          DefaultDurationEndpoint,
			RequestsPerSecond: 5,
			HTTPTimeout:       15 * time.Second,
		},
		Thumbnails: ThumbnailsConfig{
			Enabled: true,
			Dir:     filepath.Join(dataDir, "thumbnails"),
		},
		Log: LogConfig{
			Level: "off",
			File:  filepath.Join(dataDir, "subwatch.log"),
		},
	}
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v, defaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		homeDir, _ := os.UserHomeDir()
		configDir := filepath.Join(homeDir, ".config", "subwatch")

		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	// SUBWATCH_DURATION_API_KEY overrides duration.api_key, and so on.
	v.SetEnvPrefix("SUBWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand paths after loading
	expandPaths(&config)

	return &config, nil
}

// setDefaults registers every leaf key so that partial config files and
// environment overrides merge with the defaults.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.timeout", cfg.Database.Timeout)
	v.SetDefault("database.search_index", cfg.Database.SearchIndex)

	v.SetDefault("feed.http_timeout", cfg.Feed.HTTPTimeout)
	v.SetDefault("feed.user_agent", cfg.Feed.UserAgent)
	v.SetDefault("feed.url_template", cfg.Feed.URLTemplate)
	v.SetDefault("feed.allow_private_hosts", cfg.Feed.AllowPrivateHosts)

	v.SetDefault("duration.api_key", cfg.Duration.APIKey)
	v.SetDefault("duration.endpoint", cfg.Duration.Endpoint)
	v.SetDefault("duration.requests_per_second", cfg.Duration.RequestsPerSecond)
	v.SetDefault("duration.http_timeout", cfg.Duration.HTTPTimeout)

	v.SetDefault("thumbnails.enabled", cfg.Thumbnails.Enabled)
	v.SetDefault("thumbnails.dir", cfg.Thumbnails.Dir)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
}

// expandPath expands ~ to home directory and converts to absolute path
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand tilde
	if len(path) >= 2 && path[:2] == "~/" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}

	// Convert to absolute path if not already absolute
	if !filepath.IsAbs(path) {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}

	return path
}

// expandPaths expands all paths in the config
func expandPaths(cfg *Config) {
	cfg.Database.Path = expandPath(cfg.Database.Path)
	cfg.Database.SearchIndex = expandPath(cfg.Database.SearchIndex)
	cfg.Thumbnails.Dir = expandPath(cfg.Thumbnails.Dir)
	cfg.Log.File = expandPath(cfg.Log.File)
}

// DurationLookupEnabled reports whether a duration credential is configured.
func (c *Config) DurationLookupEnabled() bool {
	return c.Duration.APIKey != ""
}

func Save(config *Config, path string) error {
	v := viper.New()

	// Convert durations to strings for TOML readability
	dbCfg := map[string]interface{}{
		"path":         config.Database.Path,
		"timeout":      config.Database.Timeout.String(),
		"search_index": config.Database.SearchIndex,
	}

	feedCfg := map[string]interface{}{
		"http_timeout":        config.Feed.HTTPTimeout.String(),
		"user_agent":          config.Feed.UserAgent,
		"url_template":        config.Feed.URLTemplate,
		"allow_private_hosts": config.Feed.AllowPrivateHosts,
	}

	durationCfg := map[string]interface{}{
		"api_key":             config.Duration.APIKey,
		"endpoint":            config.Duration.Endpoint,
		"requests_per_second": config.Duration.RequestsPerSecond,
		"http_timeout":        config.Duration.HTTPTimeout.String(),
	}

	v.Set("database", dbCfg)
	v.Set("feed", feedCfg)
	v.Set("duration", durationCfg)
	v.Set("thumbnails", map[string]interface{}{
		"enabled": config.Thumbnails.Enabled,
		"dir":     config.Thumbnails.Dir,
	})
	v.Set("log", map[string]interface{}{
		"level": config.Log.Level,
		"file":  config.Log.File,
	})

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	return v.WriteConfigAs(path)
}

func GenerateDefaultConfig(path string) error {
	return Save(defaultConfig(), path)
}

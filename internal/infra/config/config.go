// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Socket    SocketConfig    `yaml:"socket"`
	Queue     QueueConfig     `yaml:"queue"`
	Session   SessionConfig   `yaml:"session"`
	Downloads DownloadsConfig `yaml:"downloads"`
	Paths     PathsConfig     `yaml:"paths"`
	SpinShare SpinShareConfig `yaml:"spinshare"`
}

// APIConfig represents the HTTP API listener configuration.
type APIConfig struct {
	Address string `yaml:"address" default:"127.0.0.1"`
	Port    int    `yaml:"port" default:"6969" validate:"gte=1,lte=65535"`
}

// SocketConfig represents the WebSocket firehose listener configuration.
type SocketConfig struct {
	Address string `yaml:"address" default:"127.0.0.1"`
	Port    int    `yaml:"port" default:"6970" validate:"gte=1,lte=65535"`
}

// QueueConfig represents request queue behavior.
type QueueConfig struct {
	// EnableNotifications controls the in-game toast shown when an entry
	// is added to the queue.
	EnableNotifications bool `yaml:"enable_notifications" default:"true"`
	// OpenOnStartup opens the request gate as soon as the service starts.
	OpenOnStartup bool `yaml:"open_on_startup"`
}

// SessionConfig represents play-history tracking configuration.
type SessionConfig struct {
	// PlayedThresholdPercentage is how far into a track playback must get
	// before the track counts as played.
	PlayedThresholdPercentage int `yaml:"played_threshold_percentage" default:"50" validate:"gte=0,lte=100"`
	// RetentionHours is how long persisted history files stay trustworthy.
	// 0 means persisted data is never trusted across restarts.
	RetentionHours int `yaml:"retention_hours" default:"12" validate:"gte=0,lte=24"`
}

// DownloadsConfig represents chart download behavior.
type DownloadsConfig struct {
	// DeleteOldMapFiles deletes superseded chart files instead of renaming
	// them aside with an old_<timestamp> suffix.
	DeleteOldMapFiles bool `yaml:"delete_old_map_files"`
	// JumpToMapAfterDownloading jumps straight to a freshly downloaded
	// chart instead of waiting for another play action.
	JumpToMapAfterDownloading bool `yaml:"jump_to_map_after_downloading"`
}

// PathsConfig represents filesystem locations.
type PathsConfig struct {
	// CustomsDir is where custom chart bundles (.srtb) live.
	CustomsDir string `yaml:"customs_dir" validate:"required"`
	// DataDir is where the queue and session history files are written.
	DataDir string `yaml:"data_dir" validate:"required"`
}

// SpinShareConfig represents the upstream SpinShare API configuration.
type SpinShareConfig struct {
	BaseURL        string `yaml:"base_url" default:"https://spinsha.re/api/v1"`
	TimeoutSeconds int    `yaml:"timeout_seconds" default:"10" validate:"gte=1,lte=120"`
}

// Timeout returns the upstream request timeout as a duration.
func (s SpinShareConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// Retention returns the history staleness window as a duration.
func (s SessionConfig) Retention() time.Duration {
	return time.Duration(s.RetentionHours) * time.Hour
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for path fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	// Override with environment variables
	cfg.overrideFromEnv()

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPINREQUESTS_CUSTOMS_DIR"); v != "" {
		c.Paths.CustomsDir = v
	}
	if v := os.Getenv("SPINREQUESTS_DATA_DIR"); v != "" {
		c.Paths.DataDir = v
	}
	if v := os.Getenv("SPINSHARE_BASE_URL"); v != "" {
		c.SpinShare.BaseURL = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if c.API.Address == c.Socket.Address && c.API.Port == c.Socket.Port {
		return errors.Newf("api and socket listeners cannot share %s:%d", c.API.Address, c.API.Port)
	}

	return nil
}

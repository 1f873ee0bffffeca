// Package config loads daemon configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the daemon configuration. Variables carry the DRIFTSYNC_
// prefix, e.g. DRIFTSYNC_DB_PATH, DRIFTSYNC_REMOTE_BASE_URL.
type Config struct {
	// Local store
	DBPath string `envconfig:"DB_PATH" default:"driftsync.db"`

	// Remote store
	RemoteBaseURL  string        `envconfig:"REMOTE_BASE_URL" default:"http://localhost:8081"`
	RemoteAPIToken string        `envconfig:"REMOTE_API_TOKEN" default:""`
	RemoteOwnerID  string        `envconfig:"REMOTE_OWNER_ID" default:""`
	RemoteTimeout  time.Duration `envconfig:"REMOTE_TIMEOUT" default:"10s"`

	// Change-stream poller
	ChangePollInterval time.Duration `envconfig:"CHANGE_POLL_INTERVAL" default:"30s"`

	// Connectivity probe; ProbeURL defaults to <RemoteBaseURL>/healthz
	ProbeURL      string        `envconfig:"PROBE_URL" default:""`
	ProbeInterval time.Duration `envconfig:"PROBE_INTERVAL" default:"15s"`

	// Periodic full sync, cron spec syntax
	SyncSchedule string `envconfig:"SYNC_SCHEDULE" default:"@every 5m"`

	// Operational HTTP surface
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`
}

// New parses the environment and fills derived defaults.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("DRIFTSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	if err := cfg.resolveDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolveDefaults() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("remote base URL must not be empty")
	}
	if c.ProbeURL == "" {
		c.ProbeURL = strings.TrimRight(c.RemoteBaseURL, "/") + "/healthz"
	}
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	return nil
}

// HTTPAddr returns the operational server listen address.
func (c *Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

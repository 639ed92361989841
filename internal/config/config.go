package config

import (
	"fmt"
	"time"

	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/cadencehq/cadence/pkg/logger"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Logger   logger.Config  `yaml:"logger"`
	Daemon   DaemonConfig   `yaml:"daemon"`
	LinkedIn LinkedInConfig `yaml:"linkedin"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Type     string `yaml:"type"` // postgres or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
	Path     string `yaml:"path"` // sqlite file path
}

// DaemonConfig controls the publisher daemon's poll loop and retry policy.
type DaemonConfig struct {
	Enabled        bool   `yaml:"enabled"`
	PollInterval   string `yaml:"poll_interval"`
	BatchLimit     int    `yaml:"batch_limit"`
	Concurrency    int    `yaml:"concurrency"`
	MaxAttempts    int    `yaml:"max_attempts"`
	BackoffBase    string `yaml:"backoff_base"`
	BackoffCap     string `yaml:"backoff_cap"`
	ClaimTimeout   string `yaml:"claim_timeout"`
	PublishTimeout string `yaml:"publish_timeout"`
}

type LinkedInConfig struct {
	Token      string `yaml:"token"`
	AuthorURN  string `yaml:"author_urn"`
	APIVersion string `yaml:"api_version"`
	BaseURL    string `yaml:"base_url"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5347
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Type == "" {
		cfg.Database.Type = "sqlite"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "cadence.db"
	}
	if cfg.Daemon.PollInterval == "" {
		cfg.Daemon.PollInterval = "60s"
	}
	if cfg.Daemon.BatchLimit == 0 {
		cfg.Daemon.BatchLimit = 20
	}
	if cfg.Daemon.Concurrency == 0 {
		cfg.Daemon.Concurrency = 4
	}
	if cfg.Daemon.MaxAttempts == 0 {
		cfg.Daemon.MaxAttempts = 5
	}
	if cfg.Daemon.BackoffBase == "" {
		cfg.Daemon.BackoffBase = "1m"
	}
	if cfg.Daemon.BackoffCap == "" {
		cfg.Daemon.BackoffCap = "30m"
	}
	if cfg.Daemon.ClaimTimeout == "" {
		cfg.Daemon.ClaimTimeout = "10m"
	}
	if cfg.Daemon.PublishTimeout == "" {
		cfg.Daemon.PublishTimeout = "30s"
	}
	if cfg.LinkedIn.APIVersion == "" {
		cfg.LinkedIn.APIVersion = "202405"
	}
	if cfg.LinkedIn.BaseURL == "" {
		cfg.LinkedIn.BaseURL = "https://api.linkedin.com"
	}

	return cfg, nil
}

// Durations parses the duration-valued daemon settings, failing fast on a
// malformed value so a typo is caught at startup rather than mid-cycle.
func (c *DaemonConfig) Durations() (poll, base, cap, claim, publish time.Duration, err error) {
	for _, d := range []struct {
		name  string
		value string
		out   *time.Duration
	}{
		{"poll_interval", c.PollInterval, &poll},
		{"backoff_base", c.BackoffBase, &base},
		{"backoff_cap", c.BackoffCap, &cap},
		{"claim_timeout", c.ClaimTimeout, &claim},
		{"publish_timeout", c.PublishTimeout, &publish},
	} {
		*d.out, err = time.ParseDuration(d.value)
		if err != nil {
			return 0, 0, 0, 0, 0, fmt.Errorf("invalid daemon.%s %q: %w", d.name, d.value, err)
		}
	}
	return poll, base, cap, claim, publish, nil
}

// Package config loads addonsync configuration from the environment and
// resolves its on-disk locations.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/blackwell-systems/addonsync/internal/addon"
	"github.com/blackwell-systems/addonsync/internal/lifecycle"
	"github.com/blackwell-systems/addonsync/internal/logging"
	"github.com/blackwell-systems/addonsync/internal/repository"
)

// EnvPrefix prefixes every environment variable, e.g. ADDONSYNC_DB_PATH.
const EnvPrefix = "ADDONSYNC"

// Config holds all addonsync configuration.
type Config struct {
	// Storage
	DataDir   string `envconfig:"DATA_DIR"`
	DBPath    string `envconfig:"DB_PATH"`
	QueuePath string `envconfig:"QUEUE_PATH"`

	// Lifecycle
	ProxyMarker             string `envconfig:"PROXY_MARKER" default:"-latus-proxied"`
	MainRepositoryKey       string `envconfig:"MAIN_REPOSITORY_KEY" default:"main_repository_name"`
	NotifyRetainedUninstall bool   `envconfig:"NOTIFY_RETAINED_UNINSTALL" default:"false"`

	// Installer backend. Commands are whitespace-separated templates; empty
	// uses the composer defaults.
	InstallCommand   string        `envconfig:"INSTALL_COMMAND"`
	UpdateCommand    string        `envconfig:"UPDATE_COMMAND"`
	UninstallCommand string        `envconfig:"UNINSTALL_COMMAND"`
	WorkDir          string        `envconfig:"WORK_DIR"`
	CommandTimeout   time.Duration `envconfig:"COMMAND_TIMEOUT" default:"10m"`
	CommandRetries   uint64        `envconfig:"COMMAND_RETRIES" default:"2"`
	RetryInterval    time.Duration `envconfig:"RETRY_INTERVAL" default:"5s"`
	Concurrency      int           `envconfig:"CONCURRENCY" default:"4"`

	// Serving
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8765"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"30s"`
	WebhookTimeout time.Duration `envconfig:"WEBHOOK_TIMEOUT" default:"10s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogDev   bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load reads configuration from ADDONSYNC_* environment variables and fills
// in the default paths.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.resolvePaths(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no environment is set.
func Default() *Config {
	return &Config{
		ProxyMarker:       addon.DefaultProxyMarker,
		MainRepositoryKey: repository.DefaultMainRepositoryKey,
		CommandTimeout:    10 * time.Minute,
		CommandRetries:    2,
		RetryInterval:     5 * time.Second,
		Concurrency:       4,
		ListenAddr:        "127.0.0.1:8765",
		PollInterval:      30 * time.Second,
		WebhookTimeout:    10 * time.Second,
		LogLevel:          "info",
	}
}

// resolvePaths defaults DataDir to ~/.addonsync and places the database and
// queue inside it unless they are set explicitly.
func (c *Config) resolvePaths() error {
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		c.DataDir = filepath.Join(home, ".addonsync")
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "addonsync.db")
	}
	if c.QueuePath == "" {
		c.QueuePath = filepath.Join(c.DataDir, "queue.json")
	}
	return nil
}

// PIDFile is where the serve daemon records its PID.
func (c *Config) PIDFile() string {
	return filepath.Join(c.DataDir, "serve.pid")
}

// LogFile is where the serve daemon writes its output.
func (c *Config) LogFile() string {
	return filepath.Join(c.DataDir, "serve.log")
}

// Commands returns the configured command templates by verb. Verbs left
// unset are omitted so the backend falls back to its defaults.
func (c *Config) Commands() map[lifecycle.Verb][]string {
	out := map[lifecycle.Verb][]string{}
	for verb, tmpl := range map[lifecycle.Verb]string{
		lifecycle.VerbInstall:   c.InstallCommand,
		lifecycle.VerbUpdate:    c.UpdateCommand,
		lifecycle.VerbUninstall: c.UninstallCommand,
	} {
		if fields := strings.Fields(tmpl); len(fields) > 0 {
			out[verb] = fields
		}
	}
	return out
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = c.LogLevel
	cfg.Development = c.LogDev
	return cfg
}

// Dir returns the addonsync config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/addonsync if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "addonsync"), nil
}

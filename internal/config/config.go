package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// expandTilde expands ~ or ~/ at the start of a path to the user's home directory
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// Config holds all configuration for the sync tool
type Config struct {
	API       APIConfig        `yaml:"api"`
	Target    TargetConfig     `yaml:"target"`
	Sync      SyncConfig       `yaml:"sync"`
	Resources []ResourceConfig `yaml:"resources"`
	Slack     SlackConfig      `yaml:"slack"`
}

// APIConfig holds upstream HTTP API settings
type APIConfig struct {
	BaseURL        string            `yaml:"base_url"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	AuthProfile    string            `yaml:"auth_profile"` // token stored via `restsync auth`
	BearerToken    string            `yaml:"bearer_token"` // inline token (prefer auth_profile)
	Headers        map[string]string `yaml:"headers"`
}

// Timeout returns the request timeout as a duration
func (a *APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// TargetConfig holds target store settings
type TargetConfig struct {
	Type     string `yaml:"type"`    // "sqlite" (default) or "postgres"
	Path     string `yaml:"path"`    // sqlite database file
	Dataset  string `yaml:"dataset"` // postgres schema / sqlite table prefix
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"` // postgres: disable, require, verify-ca, verify-full
}

// RetryConfig bounds the per-page retry behavior of the extractor
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms"`
	MaxBackoffMs     int `yaml:"max_backoff_ms"`
}

// InitialBackoff returns the first retry delay
func (r *RetryConfig) InitialBackoff() time.Duration {
	return time.Duration(r.InitialBackoffMs) * time.Millisecond
}

// MaxBackoff returns the retry delay ceiling
func (r *RetryConfig) MaxBackoff() time.Duration {
	return time.Duration(r.MaxBackoffMs) * time.Millisecond
}

// SyncConfig holds sync behavior settings
type SyncConfig struct {
	DataDir   string      `yaml:"data_dir"`
	BatchSize int         `yaml:"batch_size"`
	PageLimit int         `yaml:"page_limit"`
	Workers   int         `yaml:"workers"`
	Schedule  string      `yaml:"schedule"` // cron expression for serve mode
	Retry     RetryConfig `yaml:"retry"`
}

// PaginationConfig describes how the upstream endpoint pages results
type PaginationConfig struct {
	Mode       string `yaml:"mode"`        // "page" (default) or "token"
	Param      string `yaml:"param"`       // query param carrying page number / token
	TokenField string `yaml:"token_field"` // response field with next token (token mode)
}

// FilterConfig is a declarative value predicate applied per record
type FilterConfig struct {
	Field string `yaml:"field"`
	Op    string `yaml:"op"` // lt, lte, gt, gte, eq, ne
	Value any    `yaml:"value"`
}

// ResourceConfig describes one logical upstream resource
type ResourceConfig struct {
	Name           string            `yaml:"name"`
	Path           string            `yaml:"path"`
	DataSelector   string            `yaml:"data_selector"` // dot path to the record array
	IncrementalKey string            `yaml:"incremental_key"`
	InitialCursor  string            `yaml:"initial_cursor"`
	CursorParam    string            `yaml:"cursor_param"` // query param carrying the cursor; empty = client-side skip
	PrimaryKey     []string          `yaml:"primary_key"`
	Pagination     PaginationConfig  `yaml:"pagination"`
	Params         map[string]string `yaml:"params"`
	Filter         *FilterConfig     `yaml:"filter"`
}

// SlackConfig holds Slack notification settings
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	Enabled    bool   `yaml:"enabled"`
}

// LoadOptions controls configuration loading behavior.
type LoadOptions struct {
	SuppressWarnings bool
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	return LoadWithOptions(path, LoadOptions{})
}

// LoadWithOptions reads configuration from a YAML file with options.
func LoadWithOptions(path string, opts LoadOptions) (*Config, error) {
	// Check file permissions before reading (warns if insecure)
	if warning := checkFilePermissions(path); warning != "" && !opts.SuppressWarnings {
		fmt.Fprint(os.Stderr, warning)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return LoadBytes(data)
}

// LoadBytes reads configuration from YAML bytes.
func LoadBytes(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// DefaultDataDir returns the default data directory for state storage.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".restsync")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	if err := os.Chmod(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (c *Config) applyDefaults() {
	if c.API.TimeoutSeconds == 0 {
		c.API.TimeoutSeconds = 30
	}

	if c.Target.Type == "" {
		c.Target.Type = "sqlite"
	}
	if c.Target.Type == "sqlite" && c.Target.Path == "" {
		c.Target.Path = "restsync.db"
	}
	if c.Target.Type == "postgres" {
		if c.Target.Port == 0 {
			c.Target.Port = 5432
		}
		if c.Target.SSLMode == "" {
			c.Target.SSLMode = "require"
		}
		if c.Target.Dataset == "" {
			c.Target.Dataset = "public"
		}
	}

	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 500
	}
	if c.Sync.PageLimit == 0 {
		c.Sync.PageLimit = 100
	}
	if c.Sync.Workers == 0 {
		cores := runtime.NumCPU()
		c.Sync.Workers = cores
		if c.Sync.Workers > 8 {
			c.Sync.Workers = 8 // Resources are I/O bound, no point going wide
		}
	}
	if c.Sync.DataDir == "" {
		home, _ := os.UserHomeDir()
		c.Sync.DataDir = filepath.Join(home, ".restsync")
	} else {
		c.Sync.DataDir = expandTilde(c.Sync.DataDir)
	}
	if c.Sync.Retry.MaxAttempts == 0 {
		c.Sync.Retry.MaxAttempts = 5
	}
	if c.Sync.Retry.InitialBackoffMs == 0 {
		c.Sync.Retry.InitialBackoffMs = 500
	}
	if c.Sync.Retry.MaxBackoffMs == 0 {
		c.Sync.Retry.MaxBackoffMs = 30000
	}

	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Pagination.Mode == "" {
			r.Pagination.Mode = "page"
		}
		if r.Pagination.Param == "" {
			if r.Pagination.Mode == "token" {
				r.Pagination.Param = "page_token"
			} else {
				r.Pagination.Param = "page"
			}
		}
		if r.Pagination.Mode == "token" && r.Pagination.TokenField == "" {
			r.Pagination.TokenField = "next"
		}
	}
}

var validFilterOps = map[string]bool{
	"lt": true, "lte": true, "gt": true, "gte": true, "eq": true, "ne": true,
}

func (c *Config) validate() error {
	if c.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}

	if c.Target.Type != "sqlite" && c.Target.Type != "postgres" {
		return fmt.Errorf("target.type must be 'sqlite' or 'postgres', got '%s'", c.Target.Type)
	}
	if c.Target.Type == "postgres" {
		if c.Target.Host == "" {
			return fmt.Errorf("target.host is required for postgres")
		}
		if c.Target.Database == "" {
			return fmt.Errorf("target.database is required for postgres")
		}
	}

	if len(c.Resources) == 0 {
		return fmt.Errorf("at least one resource is required")
	}

	seen := make(map[string]bool)
	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Name == "" {
			return fmt.Errorf("resources[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("duplicate resource name '%s'", r.Name)
		}
		seen[r.Name] = true
		if r.Path == "" {
			return fmt.Errorf("resource %s: path is required", r.Name)
		}
		if r.IncrementalKey == "" {
			return fmt.Errorf("resource %s: incremental_key is required", r.Name)
		}
		if len(r.PrimaryKey) == 0 {
			return fmt.Errorf("resource %s: primary_key is required", r.Name)
		}
		if r.Pagination.Mode != "page" && r.Pagination.Mode != "token" {
			return fmt.Errorf("resource %s: pagination.mode must be 'page' or 'token'", r.Name)
		}
		if r.Filter != nil {
			if r.Filter.Field == "" {
				return fmt.Errorf("resource %s: filter.field is required", r.Name)
			}
			if !validFilterOps[r.Filter.Op] {
				return fmt.Errorf("resource %s: filter.op must be one of lt, lte, gt, gte, eq, ne", r.Name)
			}
		}
	}

	return nil
}

// Resource returns the resource config with the given name, or nil.
func (c *Config) Resource(name string) *ResourceConfig {
	for i := range c.Resources {
		if c.Resources[i].Name == name {
			return &c.Resources[i]
		}
	}
	return nil
}

// DSN returns the postgres connection string for the target store.
// Only meaningful when type is "postgres".
func (t *TargetConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		t.User, t.Password, t.Host, t.Port, t.Database, t.SSLMode)
}

// Sanitized returns a copy of the config with sensitive fields redacted
func (c *Config) Sanitized() *Config {
	sanitized := *c // shallow copy

	sanitized.Target.Password = "[REDACTED]"
	if sanitized.API.BearerToken != "" {
		sanitized.API.BearerToken = "[REDACTED]"
	}
	if sanitized.Slack.WebhookURL != "" {
		sanitized.Slack.WebhookURL = "[REDACTED]"
	}

	return &sanitized
}

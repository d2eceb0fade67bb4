// Package config provides loading and validation of cag.yaml configuration
// files for the knowledge-graph engine and the cagctl operator CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Default values applied by Default and by the duration getters.
const (
	DefaultAutoSaveInterval = 300 * time.Second
	DefaultSaveThreshold    = 100
	DefaultMaxSnapshots     = 10
	DefaultMaxDepth         = 2
	DefaultMaxNodes         = 20
	DefaultMaxContextNodes  = 50
	DefaultSeedLimit        = 5
	DefaultCacheCapacity    = 100
	DefaultKeyPrefix        = "cag:cache:"
)

// Config represents a cag.yaml configuration file.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Snapshots SnapshotConfig  `yaml:"snapshots"`
	Context   ContextConfig   `yaml:"context"`
	Cache     CacheConfig     `yaml:"cache"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// StorageConfig selects the store variant and its persistence settings.
type StorageConfig struct {
	// Path is the store directory. Required when Persistent is true.
	Path string `yaml:"path" validate:"required_if=Persistent true"`

	// Persistent selects the disk-backed variant.
	Persistent bool `yaml:"persistent"`

	// Backend is "files" or "badger".
	// Default: files
	Backend string `yaml:"backend,omitempty" validate:"omitempty,oneof=files badger"`

	// AutoSaveInterval is the background flush period.
	// Format: Go duration string (e.g., "5m")
	// Default: 300s
	AutoSaveInterval string `yaml:"auto_save_interval,omitempty"`

	// SaveThreshold is the mutation count that triggers an immediate flush.
	// Default: 100
	SaveThreshold int `yaml:"save_threshold,omitempty" validate:"gte=0"`
}

// SnapshotConfig configures the snapshot manager.
type SnapshotConfig struct {
	Enabled bool `yaml:"enabled"`

	// Dir overrides the snapshot directory.
	// Default: <storage.path>/snapshots
	Dir string `yaml:"dir,omitempty"`

	// MaxSnapshots is the retention count.
	// Default: 10
	MaxSnapshots int `yaml:"max_snapshots,omitempty" validate:"gte=0"`

	// Compress enables zstd compression.
	// Default: true
	Compress *bool `yaml:"compress,omitempty"`
}

// ContextConfig bounds context expansion for a query.
type ContextConfig struct {
	MaxDepth        int      `yaml:"max_depth,omitempty" validate:"gte=0,lte=10"`
	MaxNodes        int      `yaml:"max_nodes,omitempty" validate:"gte=0"`
	MaxContextNodes int      `yaml:"max_context_nodes,omitempty" validate:"gte=0"`
	SeedLimit       int      `yaml:"seed_limit,omitempty" validate:"gte=0"`
	SeedProperties  []string `yaml:"seed_properties,omitempty" validate:"dive,required"`
}

// CacheConfig selects the query cache.
type CacheConfig struct {
	// Backend is "memory" or "redis".
	// Default: memory
	Backend string `yaml:"backend,omitempty" validate:"omitempty,oneof=memory redis"`

	Capacity int `yaml:"capacity,omitempty" validate:"gte=0"`

	// RedisURL is required for the redis backend.
	RedisURL string `yaml:"redis_url,omitempty" validate:"required_if=Backend redis,omitempty,url"`

	KeyPrefix string `yaml:"key_prefix,omitempty"`
}

// TelemetryConfig configures the metrics endpoint of cagctl serve.
type TelemetryConfig struct {
	// MetricsAddr is the listen address of the Prometheus endpoint.
	// Default: empty (disabled)
	MetricsAddr string `yaml:"metrics_addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the default configuration: an in-memory store with
// snapshots disabled and a 100-entry memory cache.
func Default() *Config {
	compress := true
	return &Config{
		Storage: StorageConfig{
			Backend:          "files",
			AutoSaveInterval: DefaultAutoSaveInterval.String(),
			SaveThreshold:    DefaultSaveThreshold,
		},
		Snapshots: SnapshotConfig{
			MaxSnapshots: DefaultMaxSnapshots,
			Compress:     &compress,
		},
		Context: ContextConfig{
			MaxDepth:        DefaultMaxDepth,
			MaxNodes:        DefaultMaxNodes,
			MaxContextNodes: DefaultMaxContextNodes,
			SeedLimit:       DefaultSeedLimit,
			SeedProperties:  []string{"name"},
		},
		Cache: CacheConfig{
			Backend:   "memory",
			Capacity:  DefaultCacheCapacity,
			KeyPrefix: DefaultKeyPrefix,
		},
	}
}

// GetAutoSaveInterval parses the auto-save interval and returns a duration.
// Returns the default value if not set or invalid.
func (s *StorageConfig) GetAutoSaveInterval() time.Duration {
	if s == nil || s.AutoSaveInterval == "" {
		return DefaultAutoSaveInterval
	}
	d, err := time.ParseDuration(s.AutoSaveInterval)
	if err != nil {
		return DefaultAutoSaveInterval
	}
	return d
}

// GetSaveThreshold returns the configured threshold or the default value.
func (s *StorageConfig) GetSaveThreshold() int {
	if s == nil || s.SaveThreshold <= 0 {
		return DefaultSaveThreshold
	}
	return s.SaveThreshold
}

// GetBackend returns the configured backend or "files".
func (s *StorageConfig) GetBackend() string {
	if s == nil || s.Backend == "" {
		return "files"
	}
	return s.Backend
}

// GetDir returns the snapshot directory for a store directory.
func (s *SnapshotConfig) GetDir(storagePath string) string {
	if s != nil && s.Dir != "" {
		return s.Dir
	}
	return filepath.Join(storagePath, "snapshots")
}

// GetMaxSnapshots returns the retention count or the default value.
func (s *SnapshotConfig) GetMaxSnapshots() int {
	if s == nil || s.MaxSnapshots <= 0 {
		return DefaultMaxSnapshots
	}
	return s.MaxSnapshots
}

// GetCompress reports whether snapshots are compressed. Default: true.
func (s *SnapshotConfig) GetCompress() bool {
	if s == nil || s.Compress == nil {
		return true
	}
	return *s.Compress
}

// GetCapacity returns the cache capacity or the default value.
func (c *CacheConfig) GetCapacity() int {
	if c == nil || c.Capacity <= 0 {
		return DefaultCacheCapacity
	}
	return c.Capacity
}

// GetKeyPrefix returns the Redis key prefix or the default value.
func (c *CacheConfig) GetKeyPrefix() string {
	if c == nil || c.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return c.KeyPrefix
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration against its struct tags. Durations
// must parse when set.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return formatValidationError(err)
	}
	if c.Storage.AutoSaveInterval != "" {
		if _, err := time.ParseDuration(c.Storage.AutoSaveInterval); err != nil {
			return fmt.Errorf("storage.auto_save_interval is invalid: %w", err)
		}
	}
	return nil
}

// formatValidationError formats validation errors into readable messages.
func formatValidationError(err error) error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}
	msgs := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		msgs = append(msgs, formatFieldError(e))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// formatFieldError formats a single field validation error.
func formatFieldError(e validator.FieldError) string {
	field := strings.ToLower(e.Namespace())
	field = strings.TrimPrefix(field, "config.")

	switch e.Tag() {
	case "required", "required_if":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be host:port", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}

// Load reads a cag.yaml file from the given path, applying it over Default
// and validating the result. If the path is a directory, it looks for
// cag.yaml or cag.yml in that directory.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path: %w", err)
	}

	configPath := path
	if info.IsDir() {
		configPath = ""
		for _, name := range []string{"cag.yaml", "cag.yml"} {
			candidate := filepath.Join(path, name)
			if _, err := os.Stat(candidate); err == nil {
				configPath = candidate
				break
			}
		}
		if configPath == "" {
			return nil, fmt.Errorf("no cag.yaml or cag.yml found in %s", path)
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

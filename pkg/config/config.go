package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ram-shortage/BRindeX/pkg/log"
)

// Defaults for fields omitted from the configuration file
const (
	DefaultJournalPollInterval  = 30 * time.Second
	DefaultReconcileInterval    = 30 * time.Minute
	DefaultOfflineRetention     = 7 * 24 * time.Hour
	DefaultCPUThrottleThreshold = 0.8
	DefaultThrottleMultiplier   = 4
	DefaultBatchSize            = 100000
)

// Duration wraps time.Duration so YAML values like "30s" and "30m" parse
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// VolumeConfig is the per-mount volume record
type VolumeConfig struct {
	// Enabled opts the volume into indexing; volumes are never indexed
	// implicitly
	Enabled bool `yaml:"enabled"`
	// ReconcileInterval is the rescan cadence for non-journaled volumes
	ReconcileInterval Duration `yaml:"reconcile_interval"`
	// FollowSymlinks makes the walk enumerator descend into symlinks
	// and junctions
	FollowSymlinks bool `yaml:"follow_symlinks"`
}

// ExcludeConfig holds path-prefix and extension exclusions
type ExcludeConfig struct {
	Paths      []string `yaml:"paths"`
	Extensions []string `yaml:"extensions"`
}

// Config is the full service configuration
type Config struct {
	DataDir              string                  `yaml:"data_dir"`
	LogDir               string                  `yaml:"log_dir"`
	MetricsAddr          string                  `yaml:"metrics_addr"`
	JournalPollInterval  Duration                `yaml:"journal_poll_interval"`
	CPUThrottleThreshold float64                 `yaml:"cpu_throttle_threshold"`
	ThrottleMultiplier   int                     `yaml:"throttle_multiplier"`
	OfflineRetention     Duration                `yaml:"offline_retention"`
	BatchSize            int                     `yaml:"batch_size"`
	Volumes              map[string]VolumeConfig `yaml:"volumes"`
	Excludes             ExcludeConfig           `yaml:"excludes"`
}

// knownKeys are the recognized top-level configuration keys
var knownKeys = map[string]bool{
	"data_dir":               true,
	"log_dir":                true,
	"metrics_addr":           true,
	"journal_poll_interval":  true,
	"cpu_throttle_threshold": true,
	"throttle_multiplier":    true,
	"offline_retention":      true,
	"batch_size":             true,
	"volumes":                true,
	"excludes":               true,
}

// Default returns a configuration with all documented defaults applied
func Default() *Config {
	cfg := &Config{
		Volumes: make(map[string]VolumeConfig),
	}
	cfg.applyDefaults()
	return cfg
}

// Load reads and validates a YAML configuration file. Unknown top-level
// keys are ignored with a warning; missing keys take defaults. Reload
// requires a service restart.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	// First pass detects unknown keys so they can be warned about
	// instead of silently dropped
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for key := range raw {
		if !knownKeys[key] {
			log.Logger.Warn().Str("key", key).Msg("Ignoring unknown configuration key")
		}
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = defaultDataDir()
	}
	if c.JournalPollInterval <= 0 {
		c.JournalPollInterval = Duration(DefaultJournalPollInterval)
	}
	if c.CPUThrottleThreshold <= 0 {
		c.CPUThrottleThreshold = DefaultCPUThrottleThreshold
	}
	if c.ThrottleMultiplier <= 0 {
		c.ThrottleMultiplier = DefaultThrottleMultiplier
	}
	if c.OfflineRetention <= 0 {
		c.OfflineRetention = Duration(DefaultOfflineRetention)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Volumes == nil {
		c.Volumes = make(map[string]VolumeConfig)
	}
	for mount, vc := range c.Volumes {
		if vc.ReconcileInterval <= 0 {
			vc.ReconcileInterval = Duration(DefaultReconcileInterval)
			c.Volumes[mount] = vc
		}
	}
	// Normalize extension excludes once so match checks stay cheap
	for i, ext := range c.Excludes.Extensions {
		c.Excludes.Extensions[i] = strings.ToLower(strings.TrimPrefix(ext, "."))
	}
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if c.CPUThrottleThreshold > 1.0 {
		return fmt.Errorf("cpu_throttle_threshold must be a fraction in (0, 1], got %v", c.CPUThrottleThreshold)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	return nil
}

// EnabledVolumes returns the mounts that are opted into indexing
func (c *Config) EnabledVolumes() []string {
	var mounts []string
	for mount, vc := range c.Volumes {
		if vc.Enabled {
			mounts = append(mounts, mount)
		}
	}
	return mounts
}

// VolumeFor returns the configuration record for a mount, with defaults
// when the mount has no record
func (c *Config) VolumeFor(mount string) VolumeConfig {
	if vc, ok := c.Volumes[mount]; ok {
		return vc
	}
	return VolumeConfig{ReconcileInterval: Duration(DefaultReconcileInterval)}
}

// Excluded reports whether a path or extension is excluded from indexing.
// Path matching is prefix-based and case-insensitive; name matching uses
// the normalized extension list.
func (c *Config) Excluded(path, name string) bool {
	lowered := strings.ToLower(path)
	for _, prefix := range c.Excludes.Paths {
		if strings.HasPrefix(lowered, strings.ToLower(prefix)) {
			return true
		}
	}
	if ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), ".")); ext != "" {
		for _, excluded := range c.Excludes.Extensions {
			if ext == excluded {
				return true
			}
		}
	}
	return false
}

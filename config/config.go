package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"colreduce/columnar"
	"colreduce/logger"
)

// EnvPrefix prefixes environment overrides, e.g. COLREDUCE_ENGINE_PARALLELISM
const EnvPrefix = "COLREDUCE"

// Config is the application configuration
type Config struct {
	Log     logger.Config `mapstructure:"log" yaml:"log"`
	Engine  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	Catalog CatalogConfig `mapstructure:"catalog" yaml:"catalog"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// EngineConfig controls encode and reduce partitioning
type EngineConfig struct {
	// rows per partition
	PartitionSize int `mapstructure:"partition_size" yaml:"partition_size"`
	// concurrent partitions, 0 means GOMAXPROCS
	Parallelism int `mapstructure:"parallelism" yaml:"parallelism"`
}

// CatalogConfig selects the column store
type CatalogConfig struct {
	// memory or pebble
	Backend string `mapstructure:"backend" yaml:"backend"`
	// pebble data directory
	Path string `mapstructure:"path" yaml:"path"`
	// none, gzip, snappy or zstd
	Compression string `mapstructure:"compression" yaml:"compression"`
	Level       int    `mapstructure:"level" yaml:"level"`
	// decoded column cache budget, 0 disables the cache
	CacheMB      int           `mapstructure:"cache_mb" yaml:"cache_mb"`
	CacheEntries int           `mapstructure:"cache_entries" yaml:"cache_entries"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	// listen address for /metrics, empty disables the endpoint
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: logger.Config{
			Level:  "info",
			Output: "stderr",
		},
		Engine: EngineConfig{
			PartitionSize: columnar.DefaultPartitionSize,
		},
		Catalog: CatalogConfig{
			Backend:     "memory",
			Path:        "colreduce-data",
			Compression: "snappy",
			CacheMB:     256,
		},
	}
}

// NewViper returns a viper instance carrying the defaults and the
// environment overrides. Callers may bind flags before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	d := Default()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file", d.Log.FilePath)
	v.SetDefault("engine.partition_size", d.Engine.PartitionSize)
	v.SetDefault("engine.parallelism", d.Engine.Parallelism)
	v.SetDefault("catalog.backend", d.Catalog.Backend)
	v.SetDefault("catalog.path", d.Catalog.Path)
	v.SetDefault("catalog.compression", d.Catalog.Compression)
	v.SetDefault("catalog.level", d.Catalog.Level)
	v.SetDefault("catalog.cache_mb", d.Catalog.CacheMB)
	v.SetDefault("catalog.cache_entries", d.Catalog.CacheEntries)
	v.SetDefault("catalog.cache_ttl", d.Catalog.CacheTTL)
	v.SetDefault("metrics.addr", d.Metrics.Addr)
	return v
}

// Load reads the optional config file at path into v and decodes the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads path on top of the defaults and the environment
func LoadFile(path string) (*Config, error) {
	return Load(NewViper(), path)
}

// Validate rejects values the engine cannot use
func (c *Config) Validate() error {
	if c.Engine.PartitionSize <= 0 {
		return fmt.Errorf("engine.partition_size must be positive, got %d", c.Engine.PartitionSize)
	}
	if c.Engine.Parallelism < 0 {
		return fmt.Errorf("engine.parallelism must not be negative, got %d", c.Engine.Parallelism)
	}
	switch c.Catalog.Backend {
	case "memory", "pebble":
	default:
		return fmt.Errorf("unknown catalog backend %q", c.Catalog.Backend)
	}
	if _, err := columnar.ParseCompressionType(c.Catalog.Compression); err != nil {
		return fmt.Errorf("catalog.compression: %w", err)
	}
	if err := columnar.CompressionLevel(c.Catalog.Level).Validate(); err != nil {
		return fmt.Errorf("catalog.level: %w", err)
	}
	if c.Catalog.CacheMB < 0 {
		return fmt.Errorf("catalog.cache_mb must not be negative, got %d", c.Catalog.CacheMB)
	}
	if c.Catalog.CacheEntries < 0 {
		return fmt.Errorf("catalog.cache_entries must not be negative, got %d", c.Catalog.CacheEntries)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Compression returns the parsed catalog compression type
func (c *Config) Compression() columnar.CompressionType {
	ct, _ := columnar.ParseCompressionType(c.Catalog.Compression)
	return ct
}

// Dump renders the configuration as YAML
func Dump(c *Config) ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// Save writes the configuration to path as YAML
func Save(c *Config, path string) error {
	data, err := Dump(c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

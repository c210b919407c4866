// Package config carries the storage manager's explicit configuration. The
// growth-policy switch is a value passed into open, not process-wide mutable
// state, so the policy in effect is an auditable part of each manager
// instance and cannot leak between tests or tables.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ncw/directio"

	"quarry/internal/base"
	"quarry/internal/bucket"
	"quarry/internal/logutil"
)

const (
	growthExtendZero = "extend_zero"
	growthExtendOnly = "extend_only"
)

// Config is the full configuration of one storage manager.
type Config struct {
	// BucketSize is the fixed size in bytes of every bucket in every data
	// file of the table. Zero means the filesystem block size reported by
	// directio.
	BucketSize int `toml:"bucket_size"`

	// CacheTiles bounds how many tiles each column keeps resident.
	CacheTiles int `toml:"cache_tiles"`

	// GrowthPolicy is "extend_zero" (default) or "extend_only". The
	// extend-only mode skips explicit zero-fill of fresh buckets and relies
	// on sparse-file semantics; it is experimental.
	GrowthPolicy string `toml:"growth_policy"`

	Log logutil.Config `toml:"log"`
}

// Default returns the configuration used when the caller supplies nothing.
func Default() Config {
	return Config{
		BucketSize:   directio.BlockSize,
		CacheTiles:   16,
		GrowthPolicy: growthExtendZero,
	}
}

// Load reads a TOML configuration file and fills unset fields with defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if os.IsNotExist(err) {
			return cfg, &base.ConfigError{Reason: fmt.Sprintf("config file %s not found", path)}
		}
		return cfg, &base.ConfigError{Reason: fmt.Sprintf("config file %s: %v", path, err)}
	}
	return cfg, nil
}

// Validate rejects unusable values with a ConfigError.
func (c *Config) Validate() error {
	if c.BucketSize <= 0 {
		return &base.ConfigError{Reason: fmt.Sprintf("bucket_size %d must be positive", c.BucketSize)}
	}
	if c.CacheTiles < 1 {
		return &base.ConfigError{Reason: fmt.Sprintf("cache_tiles %d must be at least 1", c.CacheTiles)}
	}
	if _, err := c.Growth(); err != nil {
		return err
	}
	return nil
}

// Growth maps the configured policy name onto the bucket-level policy.
func (c *Config) Growth() (bucket.GrowthPolicy, error) {
	switch c.GrowthPolicy {
	case "", growthExtendZero:
		return bucket.GrowthExtendZero, nil
	case growthExtendOnly:
		return bucket.GrowthExtendOnly, nil
	default:
		return 0, &base.ConfigError{Reason: fmt.Sprintf(
			"growth_policy %q is not %q or %q", c.GrowthPolicy, growthExtendZero, growthExtendOnly)}
	}
}

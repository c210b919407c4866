package quarry

import (
	"go.uber.org/zap"

	"quarry/internal/config"
	"quarry/internal/logutil"
)

type settings struct {
	cfg config.Config
	log *zap.Logger
}

// Option adjusts the configuration a table is opened with.
type Option func(*settings) error

func applyOptions(opts []Option) (settings, error) {
	s := settings{cfg: config.Default()}
	for _, opt := range opts {
		if err := opt(&s); err != nil {
			return s, err
		}
	}
	if s.log == nil && s.cfg.Log != (logutil.Config{}) {
		log, err := logutil.New(s.cfg.Log)
		if err != nil {
			return s, err
		}
		s.log = log
	}
	return s, nil
}

// WithConfigFile loads the table configuration from a TOML file before any
// other options are applied on top of it.
func WithConfigFile(path string) Option {
	return func(s *settings) error {
		cfg, err := config.Load(path)
		if err != nil {
			return err
		}
		s.cfg = cfg
		return nil
	}
}

// WithBucketSize sets the fixed bucket size in bytes for every data file of
// the table.
func WithBucketSize(size int) Option {
	return func(s *settings) error {
		s.cfg.BucketSize = size
		return nil
	}
}

// WithCacheTiles bounds how many tiles each column keeps resident.
func WithCacheTiles(n int) Option {
	return func(s *settings) error {
		s.cfg.CacheTiles = n
		return nil
	}
}

// WithExtendOnly opts into the experimental extend-only growth policy:
// freshly extended buckets are never explicitly zeroed and are assumed to
// read back as zeros from the filesystem. Halves first-touch I/O at the cost
// of depending on sparse-file semantics.
func WithExtendOnly() Option {
	return func(s *settings) error {
		s.cfg.GrowthPolicy = "extend_only"
		return nil
	}
}

// WithLogger routes lifecycle and flush logging to the given logger instead
// of discarding it.
func WithLogger(log *zap.Logger) Option {
	return func(s *settings) error {
		s.log = log
		return nil
	}
}

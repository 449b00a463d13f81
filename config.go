package mvkv

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// Config is the file-level configuration of a DB.
type Config struct {
	WAL    WALConfig    `yaml:"wal"`
	Cache  CacheConfig  `yaml:"cache"`
	Export ExportConfig `yaml:"export"`
}

// WALConfig configures the write-ahead log.
type WALConfig struct {
	// Path of the log file. Empty keeps the log in memory.
	Path string `yaml:"path"`
	// Sync is one of none, batch or always.
	Sync       string `yaml:"sync"`
	BufferSize int    `yaml:"buffer_size"`
	QueueSize  int    `yaml:"queue_size"`
	// CheckpointEvery writes a snapshot entry after this many batches;
	// zero never checkpoints automatically.
	CheckpointEvery int `yaml:"checkpoint_every"`
}

// CacheConfig sizes the cache of reconstructed versions.
type CacheConfig struct {
	Snapshots int `yaml:"snapshots"`
}

// ExportConfig controls dump exports.
type ExportConfig struct {
	Compress bool `yaml:"compress"`
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		WAL: WALConfig{
			Sync:            SyncBatch.String(),
			BufferSize:      64 * 1024,
			QueueSize:       64,
			CheckpointEvery: 1000,
		},
		Cache: CacheConfig{
			Snapshots: 16,
		},
		Export: ExportConfig{
			Compress: true,
		},
	}
}

// LoadConfig reads a YAML configuration file over DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := ParseSyncMode(c.WAL.Sync); err != nil {
		return fmt.Errorf("wal.sync: %w", err)
	}
	if c.WAL.BufferSize < 0 || c.WAL.QueueSize < 0 {
		return fmt.Errorf("%w: wal buffer and queue sizes must not be negative", ErrInvalidArgument)
	}
	if c.WAL.CheckpointEvery < 0 {
		return fmt.Errorf("%w: wal.checkpoint_every must not be negative", ErrInvalidArgument)
	}
	if c.Cache.Snapshots < 0 {
		return fmt.Errorf("%w: cache.snapshots must not be negative", ErrInvalidArgument)
	}
	return nil
}

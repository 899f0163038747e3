// Package config loads the YAML configuration of a replication run.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by Load.
const (
	DefaultBatchSize    = 100
	DefaultRetryTime    = 5 * time.Second
	DefaultMaxRetryTime = time.Minute
)

// Storage backends.
const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Conflict strategies.
const (
	MasterWins = "master-wins"
	ForkWins   = "fork-wins"
)

// Config describes one replication between a fork and a master store.
type Config struct {
	// Identifier distinguishes replications of the same master.
	Identifier string `yaml:"identifier"`
	// Schemas is a schema file or directory (see package schema).
	Schemas string `yaml:"schemas"`
	// Collection names the replicated collection.
	Collection string `yaml:"collection"`

	Fork   Store `yaml:"fork"`
	Master Store `yaml:"master"`

	BatchSize     int `yaml:"batch_size"`
	PullBatchSize int `yaml:"pull_batch_size"`
	PushBatchSize int `yaml:"push_batch_size"`

	RetryTime    time.Duration `yaml:"retry_time"`
	MaxRetryTime time.Duration `yaml:"max_retry_time"`

	ConflictStrategy string `yaml:"conflict_strategy"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Store locates one side of the replication.
type Store struct {
	Backend string `yaml:"backend"`
	// Path is the SQLite file. With Shards > 1 each shard uses
	// "<path>.<n>".
	Path   string `yaml:"path"`
	Shards int    `yaml:"shards"`
}

// Load reads, defaults and validates a config file. Relative paths in the
// file are resolved against its directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse decodes a config document. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PullBatchSize == 0 {
		c.PullBatchSize = c.BatchSize
	}
	if c.PushBatchSize == 0 {
		c.PushBatchSize = c.BatchSize
	}
	if c.RetryTime == 0 {
		c.RetryTime = DefaultRetryTime
	}
	if c.MaxRetryTime == 0 {
		c.MaxRetryTime = DefaultMaxRetryTime
	}
	if c.ConflictStrategy == "" {
		c.ConflictStrategy = MasterWins
	}
	for _, s := range []*Store{&c.Fork, &c.Master} {
		if s.Backend == "" {
			s.Backend = BackendSQLite
		}
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Identifier == "":
		return errors.New("identifier is required")
	case c.Schemas == "":
		return errors.New("schemas is required")
	case c.Collection == "":
		return errors.New("collection is required")
	case c.BatchSize < 1 || c.PullBatchSize < 1 || c.PushBatchSize < 1:
		return errors.New("batch sizes must be positive")
	case c.RetryTime <= 0:
		return errors.New("retry_time must be positive")
	case c.MaxRetryTime < c.RetryTime:
		return fmt.Errorf("max_retry_time %s is below retry_time %s", c.MaxRetryTime, c.RetryTime)
	}
	switch c.ConflictStrategy {
	case MasterWins, ForkWins:
	default:
		return fmt.Errorf("unknown conflict_strategy %q", c.ConflictStrategy)
	}
	if err := c.Fork.validate("fork"); err != nil {
		return err
	}
	return c.Master.validate("master")
}

func (s Store) validate(side string) error {
	switch s.Backend {
	case BackendSQLite:
		if s.Path == "" {
			return fmt.Errorf("%s: path is required for the sqlite backend", side)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("%s: unknown backend %q", side, s.Backend)
	}
	if s.Shards < 0 {
		return fmt.Errorf("%s: shards must not be negative", side)
	}
	return nil
}

// ShardPaths returns the SQLite file of every shard, or just Path when
// the store is not sharded.
func (s Store) ShardPaths() []string {
	if s.Shards <= 1 {
		return []string{s.Path}
	}
	paths := make([]string, s.Shards)
	for i := range paths {
		paths[i] = fmt.Sprintf("%s.%d", s.Path, i)
	}
	return paths
}

func (c *Config) resolvePaths(base string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&c.Schemas)
	resolve(&c.Fork.Path)
	resolve(&c.Master.Path)
}

// Package config loads optional defaults for the dwq binaries from a
// .dwq.{yaml,yml,toml,json} file, following the layout and
// override-precedence (CLI flag > env var > config file > built-in
// default) the teacher's own internal/config/config.go establishes for
// .cinch.yaml, including the same multi-format decoder set
// (BurntSushi/toml, gopkg.in/yaml.v3, encoding/json) and ErrNoConfig
// sentinel.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrNoConfig is returned when no dwq config file is found.
var ErrNoConfig = errors.New("no dwq config file found")

// Config is the parsed dwq configuration, supplying defaults that CLI
// flags and DWQ_* environment variables may override.
type Config struct {
	// Broker lists broker node addresses, e.g. ["localhost:7711"].
	Broker []string `yaml:"broker" toml:"broker" json:"broker"`

	// Queue is the default input queue name.
	Queue string `yaml:"queue" toml:"queue" json:"queue"`

	// Concurrency is the default worker slot count.
	Concurrency int `yaml:"concurrency" toml:"concurrency" json:"concurrency"`

	// WorkerName overrides the worker's advertised name (default hostname).
	WorkerName string `yaml:"worker_name" toml:"worker_name" json:"worker_name"`

	// JobdirCapacity bounds the GitJobDir shared-checkout pool size.
	JobdirCapacity int `yaml:"jobdir_capacity" toml:"jobdir_capacity" json:"jobdir_capacity"`

	// JobdirRoot is the directory checkouts are cached under.
	JobdirRoot string `yaml:"jobdir_root" toml:"jobdir_root" json:"jobdir_root"`

	// ControlSecret, when set, is used to sign/verify dwqm control
	// commands (see internal/wire.SignControl / VerifyControl).
	ControlSecret string `yaml:"control_secret" toml:"control_secret" json:"control_secret"`

	// JobStoreDSN, when set, enables job-history recording. A
	// "postgres://" prefix selects the Postgres backend; anything else
	// is treated as a SQLite file path.
	JobStoreDSN string `yaml:"jobstore_dsn" toml:"jobstore_dsn" json:"jobstore_dsn"`

	// JobStoreSecret, when set, encrypts the recorded command text at
	// rest in the job store (see internal/jobstore.WithEncryption).
	JobStoreSecret string `yaml:"jobstore_secret" toml:"jobstore_secret" json:"jobstore_secret"`

	// OutputBucket, when set, enables S3-compatible archival of job
	// output exceeding output.InlineLimitBytes.
	OutputBucket string `yaml:"output_bucket" toml:"output_bucket" json:"output_bucket"`
	OutputPrefix string `yaml:"output_prefix" toml:"output_prefix" json:"output_prefix"`
}

// Load finds and parses a dwq config file from dir.
func Load(dir string) (*Config, string, error) {
	candidates := []struct {
		name   string
		parser func([]byte, *Config) error
	}{
		{".dwq.yaml", parseYAML},
		{".dwq.yml", parseYAML},
		{".dwq.toml", parseTOML},
		{".dwq.json", parseJSON},
		{"dwq.yaml", parseYAML},
		{"dwq.yml", parseYAML},
		{"dwq.toml", parseTOML},
		{"dwq.json", parseJSON},
	}

	for _, c := range candidates {
		path := filepath.Join(dir, c.name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cfg Config
		if err := c.parser(data, &cfg); err != nil {
			return nil, c.name, fmt.Errorf("parse %s: %w", c.name, err)
		}
		cfg.applyDefaults()
		return &cfg, c.name, nil
	}

	return nil, "", ErrNoConfig
}

func parseYAML(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	return decoder.Decode(cfg)
}

func parseTOML(data []byte, cfg *Config) error {
	_, err := toml.Decode(string(data), cfg)
	return err
}

func parseJSON(data []byte, cfg *Config) error {
	return json.Unmarshal(data, cfg)
}

func (c *Config) applyDefaults() {
	if len(c.Broker) == 0 {
		c.Broker = []string{"localhost:7711"}
	}
	if c.Queue == "" {
		c.Queue = "default"
	}
	if c.Concurrency == 0 {
		c.Concurrency = 1
	}
	if c.JobdirCapacity == 0 {
		c.JobdirCapacity = 8
	}
	if c.JobdirRoot == "" {
		c.JobdirRoot = filepath.Join(os.TempDir(), "dwq-jobdir")
	}
}

// Default returns a Config populated with built-in defaults, for callers
// operating with no config file present (ErrNoConfig from Load).
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Package config loads the host configuration: the admin server, the shared
// stores and the pipes to activate.
//
// Sources are layered in this order, later ones win: config files (merged
// in the order given), PIPES_ environment variables, command line flags.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/tarungka/pipes/internal/checkpoint"
	"github.com/tarungka/pipes/internal/deadletter"
	"github.com/tarungka/pipes/internal/idempotency"
	"github.com/tarungka/pipes/internal/pipeline"
)

const (
	EnvPrefix = "PIPES_"

	DefaultPort            = "8080"
	DefaultShutdownTimeout = 30 * time.Second
)

var ErrUnsupportedFormat = errors.New("unsupported config file extension")

type AdminConfig struct {
	Port string `koanf:"port" json:"port"`
	// StopTimeout bounds a drain requested through the admin API.
	StopTimeout time.Duration `koanf:"stop_timeout" json:"stop_timeout"`
}

type CheckpointConfig struct {
	Type   string                  `koanf:"type" json:"type"` // badger | memory
	Badger checkpoint.BadgerConfig `koanf:"badger" json:"badger"`
}

type DeadLetterConfig struct {
	Type  string                 `koanf:"type" json:"type"` // memory | bolt | mongo
	Bolt  deadletter.BoltConfig  `koanf:"bolt" json:"bolt"`
	Mongo deadletter.MongoConfig `koanf:"mongo" json:"mongo"`
}

type IdempotencyConfig struct {
	Type string        `koanf:"type" json:"type"` // memory | etcd | postgres
	TTL  time.Duration `koanf:"ttl" json:"ttl"`
	// PendingTTL bounds how long a claim may wait for its execution to
	// start before another host takes it over.
	PendingTTL time.Duration              `koanf:"pending_ttl" json:"pending_ttl"`
	Etcd       idempotency.EtcdConfig     `koanf:"etcd" json:"etcd"`
	Postgres   idempotency.PostgresConfig `koanf:"postgres" json:"postgres"`
}

type Config struct {
	Dev             bool          `koanf:"dev" json:"dev"`
	LogLevel        string        `koanf:"log_level" json:"log_level"`
	LogFile         string        `koanf:"log_file" json:"log_file"` // logs are also appended here when set
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`

	Admin       AdminConfig           `koanf:"admin" json:"admin"`
	Checkpoint  CheckpointConfig      `koanf:"checkpoint" json:"checkpoint"`
	DeadLetter  DeadLetterConfig      `koanf:"deadletter" json:"deadletter"`
	Idempotency IdempotencyConfig     `koanf:"idempotency" json:"idempotency"`
	Pipes       []pipeline.PipeConfig `koanf:"pipes" json:"pipes"`
}

func (c Config) WithDefaults() Config {
	if c.Admin.Port == "" {
		c.Admin.Port = DefaultPort
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Checkpoint.Type == "" {
		c.Checkpoint.Type = "memory"
	}
	if c.DeadLetter.Type == "" {
		c.DeadLetter.Type = "memory"
	}
	if c.Idempotency.Type == "" {
		c.Idempotency.Type = "memory"
	}
	if c.Idempotency.TTL <= 0 {
		c.Idempotency.TTL = idempotency.DefaultTTL
	}
	if c.Idempotency.PendingTTL <= 0 {
		c.Idempotency.PendingTTL = idempotency.DefaultPendingTTL
	}
	return c
}

// Validate checks the host level settings. Pipe definitions are validated
// when they are activated.
func (c Config) Validate() error {
	var errs []error
	switch c.Checkpoint.Type {
	case "memory", "badger":
	default:
		errs = append(errs, fmt.Errorf("unknown checkpoint store %q", c.Checkpoint.Type))
	}
	switch c.DeadLetter.Type {
	case "memory", "bolt", "mongo":
	default:
		errs = append(errs, fmt.Errorf("unknown dead-letter store %q", c.DeadLetter.Type))
	}
	switch c.Idempotency.Type {
	case "memory", "etcd", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unknown idempotency guard %q", c.Idempotency.Type))
	}
	seen := make(map[string]bool, len(c.Pipes))
	for _, p := range c.Pipes {
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("pipe %q is defined twice", p.Name))
		}
		seen[p.Name] = true
	}
	return errors.Join(errs...)
}

// parserFor picks the koanf parser from the file extension.
func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
}

// LoadFiles merges the config files into ko in order.
func LoadFiles(ko *koanf.Koanf, paths []string) error {
	for _, p := range paths {
		parser, err := parserFor(p)
		if err != nil {
			return err
		}
		if err := ko.Load(file.Provider(p), parser); err != nil {
			return fmt.Errorf("read config %s: %w", p, err)
		}
	}
	return nil
}

// LoadEnv merges PIPES_ variables. A double underscore separates levels,
// so PIPES_ADMIN__STOP_TIMEOUT sets admin.stop_timeout.
func LoadEnv(ko *koanf.Koanf) error {
	return ko.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil)
}

// Unmarshal decodes ko into a Config with defaults applied and validates it.
func Unmarshal(ko *koanf.Koanf) (Config, error) {
	var c Config
	if err := ko.Unmarshal("", &c); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

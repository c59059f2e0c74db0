package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"microbatch/internal/spec"
	"microbatch/source/kafka"
)

const SupportedSchema = "v1"

const (
	defaultInterval    = 5 * time.Second
	defaultGRPCPort    = 7070
	defaultMetricsPort = 9100

	// unset checkpoint.retention keeps this many batch intervals
	defaultRetentionBatches = 10
)

// Stream is a stream spec together with its resolved source config.
type Stream struct {
	Spec  spec.File
	Kafka kafka.Config
}

// Load reads the stream spec at path and the kafka source config it
// points to.
func Load(path string) (Stream, error) {
	sf, confPath, err := LoadStreamSpec(path)
	if err != nil {
		return Stream{}, err
	}
	if sf.Source.Kind != "kafka" {
		return Stream{}, fmt.Errorf("unsupported source %q", sf.Source.Kind)
	}
	kc, err := kafka.LoadConfig(confPath)
	if err != nil {
		return Stream{}, fmt.Errorf("source config: %w", err)
	}
	return Stream{Spec: sf, Kafka: kc}, nil
}

// LoadStreamSpec parses a stream YAML, validates schema_version, applies
// defaults and returns the parsed spec plus the absolute path of the source
// config (if set). Relative paths resolve against the stream file's directory.
func LoadStreamSpec(path string) (spec.File, string, error) {
	var cfg spec.File
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, "", err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, "", err
	}
	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = SupportedSchema
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, "", fmt.Errorf("stream schema_version %q not supported (want %q)", cfg.SchemaVersion, SupportedSchema)
	}
	if cfg.BatchInterval < 0 {
		return cfg, "", fmt.Errorf("batch_interval must be positive, got %s", cfg.BatchInterval)
	}
	applyDefaults(&cfg)

	dir := filepath.Dir(path)
	if p := cfg.Checkpoint.Path; p != "" && !filepath.IsAbs(p) {
		cfg.Checkpoint.Path = filepath.Join(dir, p)
	}
	confPath := cfg.Source.Config
	if confPath != "" && !filepath.IsAbs(confPath) {
		confPath = filepath.Join(dir, confPath)
	}
	return cfg, confPath, nil
}

func applyDefaults(c *spec.File) {
	if c.Source.Kind == "" {
		c.Source.Kind = "kafka"
	}
	if c.Source.Driver == "" {
		c.Source.Driver = "sarama"
	}
	if c.BatchInterval == 0 {
		c.BatchInterval = defaultInterval
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = "memory"
	}
	if c.Checkpoint.Retention == 0 {
		c.Checkpoint.Retention = defaultRetentionBatches * c.BatchInterval
	}
	if c.Engine.GRPCPort == 0 {
		c.Engine.GRPCPort = defaultGRPCPort
	}
	if c.Engine.MetricsPort == 0 {
		c.Engine.MetricsPort = defaultMetricsPort
	}
}

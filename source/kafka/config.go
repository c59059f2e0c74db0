package kafka

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type CommitMode string

const (
	CommitAuto CommitMode = "auto" // planner enqueues every batch
	CommitE2E  CommitMode = "e2e"  // processing graph commits after sinks
)

type LocationStrategy string

const (
	PreferConsistent LocationStrategy = "consistent"
	PreferBrokers    LocationStrategy = "brokers"
	PreferFixed      LocationStrategy = "fixed"
)

type PIDCfg struct {
	Proportional float64 `koanf:"proportional"`
	Integral     float64 `koanf:"integral"`
	Derivative   float64 `koanf:"derivative"`
	MinRate      float64 `koanf:"min_rate"`
}

type RateCfg struct {
	InitialRate         float64 `koanf:"initial_rate"` // msg/s, 0 = disabled
	BackpressureEnabled bool    `koanf:"backpressure_enabled"`
	MaxRatePerPartition float64 `koanf:"max_rate_per_partition"` // 0 = unlimited
	MinRatePerPartition int64   `koanf:"min_rate_per_partition"`
	// keyed by "topic" or "topic/partition"
	PartitionMaxRates map[string]float64 `koanf:"partition_max_rates"`
	PID               PIDCfg             `koanf:"pid"`
}

type Config struct {
	Brokers   []string `koanf:"brokers"`
	Topics    []string `koanf:"topics"`
	GroupID   string   `koanf:"group_id"`
	StartFrom string   `koanf:"start_from"` // oldest|newest (default newest)
	Version   string   `koanf:"version"`
	TLSEn     bool     `koanf:"tls_enabled"`
	SASLUser  string   `koanf:"sasl_user"`
	SASLPass  string   `koanf:"sasl_pass"`

	CommitMode    CommitMode    `koanf:"commit_mode"` // auto|e2e
	PollTimeout   time.Duration `koanf:"poll_timeout"`
	ConsumerCache bool          `koanf:"consumer_cache_enabled"` // see package doc

	LocationStrategy LocationStrategy  `koanf:"location_strategy"`
	PreferredHosts   map[string]string `koanf:"preferred_hosts"` // "topic/partition" -> host

	Rate RateCfg `koanf:"rate"`
}

// MaxRatePerPartition resolves the static cap for tp: an exact
// "topic/partition" entry wins over a "topic" entry, which wins over the
// default. Zero means unlimited.
func (c Config) MaxRatePerPartition(tp PartitionKey) float64 {
	if r, ok := c.Rate.PartitionMaxRates[partitionConfigKey(tp)]; ok {
		return r
	}
	if r, ok := c.Rate.PartitionMaxRates[tp.Topic]; ok {
		return r
	}
	return c.Rate.MaxRatePerPartition
}

func partitionConfigKey(tp PartitionKey) string {
	return tp.Topic + "/" + strconv.Itoa(int(tp.Partition))
}

// ParsePartitionKey is the inverse of the "topic/partition" config key.
func ParsePartitionKey(s string) (PartitionKey, error) {
	i := strings.LastIndex(s, "/")
	if i <= 0 {
		return PartitionKey{}, fmt.Errorf("kafka: partition key %q: want topic/partition", s)
	}
	p, err := strconv.ParseInt(s[i+1:], 10, 32)
	if err != nil {
		return PartitionKey{}, fmt.Errorf("kafka: partition key %q: %w", s, err)
	}
	return PartitionKey{Topic: s[:i], Partition: int32(p)}, nil
}

// ---------------------------------------------------------------------------
// Loader
// ---------------------------------------------------------------------------

// LoadConfig merges YAML (if present) with env-vars
// (prefix `MICROBATCH_KAFKA__`, delimiter `__`).
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != "v1" {
		return Config{}, fmt.Errorf("kafka schema_version %q not supported (want v1)", sv)
	}

	// MICROBATCH_KAFKA__RATE__INITIAL_RATE -> rate.initial_rate
	if err := k.Load(env.Provider("MICROBATCH_KAFKA__", ".", func(s string) string {
		s = strings.TrimPrefix(s, "MICROBATCH_KAFKA__")
		return strings.ReplaceAll(strings.ToLower(s), "__", ".")
	}), nil); err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Rate.InitialRate < 0 {
		return fmt.Errorf("kafka: rate.initial_rate must be >= 0, got %v", c.Rate.InitialRate)
	}
	if c.Rate.MaxRatePerPartition < 0 {
		return fmt.Errorf("kafka: rate.max_rate_per_partition must be >= 0, got %v", c.Rate.MaxRatePerPartition)
	}
	for key, r := range c.Rate.PartitionMaxRates {
		if r < 0 {
			return fmt.Errorf("kafka: rate.partition_max_rates[%s] must be >= 0, got %v", key, r)
		}
	}
	if c.LocationStrategy == PreferFixed {
		for key := range c.PreferredHosts {
			if _, err := ParsePartitionKey(key); err != nil {
				return err
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// defaults
// ---------------------------------------------------------------------------

func applyDefaults(c *Config) {
	if c.CommitMode != CommitAuto && c.CommitMode != CommitE2E {
		c.CommitMode = CommitAuto
	}
	if c.StartFrom == "" {
		c.StartFrom = "newest"
	}
	if c.Version == "" {
		c.Version = "2.8.0"
	}
	if c.PollTimeout == 0 {
		c.PollTimeout = 10 * time.Millisecond
	}
	if c.LocationStrategy == "" {
		c.LocationStrategy = PreferConsistent
	}
	if c.Rate.MinRatePerPartition <= 0 {
		c.Rate.MinRatePerPartition = 1
	}
	if c.Rate.PID.Proportional == 0 {
		c.Rate.PID.Proportional = 1.0
	}
	if c.Rate.PID.Integral == 0 {
		c.Rate.PID.Integral = 0.2
	}
	if c.Rate.PID.MinRate == 0 {
		c.Rate.PID.MinRate = 100
	}
}

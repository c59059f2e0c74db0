package spec

import "time"

type SinkConfigs struct {
	Kafka  KafkaSink  `yaml:"kafka"`
	Stdout StdoutSink `yaml:"stdout"`
}

type KafkaSink struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
	Acks    int16    `yaml:"required_acks"` // 0,1,-1
}

type StdoutSink struct {
	PrintEmpty bool `yaml:"print_empty"` // also print batches without records
}

type Checkpoint struct {
	Backend   string        `yaml:"backend"` // memory|bolt|redis
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"` // unset = 10 batch intervals, negative = keep everything
	Redis     struct {
		Addr      string `yaml:"addr"`
		DB        int    `yaml:"db"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`
}

type Engine struct {
	GRPCPort               int `yaml:"grpc_port"`
	MetricsPort            int `yaml:"metrics_port"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"` // 0 = never give up
}

type File struct {
	SchemaVersion string `yaml:"schema_version"`

	Source struct {
		Kind   string `yaml:"kind"`
		Driver string `yaml:"driver"`
		Config string `yaml:"config"`
	} `yaml:"source"`

	BatchInterval time.Duration `yaml:"batch_interval"`
	Checkpoint    Checkpoint    `yaml:"checkpoint"`

	Sinks       []string    `yaml:"sinks"`
	SinkConfigs SinkConfigs `yaml:"sink_configs"`
	Engine      Engine      `yaml:"engine"`
}

package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"microbatch/checkpoint"
	_ "microbatch/checkpoint/boltstore"
	_ "microbatch/checkpoint/redisstore"
	"microbatch/internal/config"
	"microbatch/internal/logging"
	"microbatch/internal/pipeline"
	"microbatch/internal/telemetry"
	"microbatch/internal/transport"
	"microbatch/source/kafka"
	_ "microbatch/sink/kafka"
	_ "microbatch/sink/stdout"
)

// Config points the engine at a stream spec. Non-zero ports override the
// spec's engine block.
type Config struct {
	SpecPath    string
	GRPCPort    int
	MetricsPort int
	Registry    *prometheus.Registry // default prometheus.DefaultRegisterer
}

func Bootstrap(cfg Config) (e *Engine, err error) {
	log := logging.For("engine")

	st, err := config.Load(cfg.SpecPath)
	if err != nil {
		return nil, fmt.Errorf("stream spec: %w", err)
	}
	sf := st.Spec
	if cfg.GRPCPort != 0 {
		sf.Engine.GRPCPort = cfg.GRPCPort
	}
	if cfg.MetricsPort != 0 {
		sf.Engine.MetricsPort = cfg.MetricsPort
	}

	e = &Engine{}
	defer func() {
		if err != nil {
			_ = e.Close()
			if e.transport != nil {
				e.transport.Stop()
			}
		}
	}()

	// 1. metrics
	var reg prometheus.Registerer = prometheus.DefaultRegisterer
	var gather prometheus.Gatherer = prometheus.DefaultGatherer
	if cfg.Registry != nil {
		reg, gather = cfg.Registry, cfg.Registry
	}
	m := telemetry.NewMetrics(reg)
	e.metrics = telemetry.Expose(sf.Engine.MetricsPort, gather)

	// 2. source
	client, err := kafka.NewClient(sf.Source.Driver)
	if err != nil {
		return nil, err
	}
	if err = client.Configure(st.Kafka); err != nil {
		return nil, fmt.Errorf("source driver %s: %w", sf.Source.Driver, err)
	}
	est := kafka.NewPIDEstimator(sf.BatchInterval, st.Kafka.Rate.PID)
	e.stream = kafka.NewDirectStream(st.Kafka, client, sf.BatchInterval,
		kafka.WithEstimator(est),
		kafka.WithObserver(m),
		kafka.WithLogger(logging.For("direct-stream")),
	)

	// 3. checkpoints
	e.store, err = checkpoint.Open(sf.Checkpoint.Backend, checkpoint.Options{
		Path:      sf.Checkpoint.Path,
		RedisAddr: sf.Checkpoint.Redis.Addr,
		RedisDB:   sf.Checkpoint.Redis.DB,
		KeyPrefix: sf.Checkpoint.Redis.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}

	// 4. pipeline
	e.runner, err = pipeline.Compile(sf)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}
	if st.Kafka.CommitMode == kafka.CommitE2E {
		e.runner.CommitAfterSinks(e.stream)
	}

	// 5. transport
	e.transport, err = transport.StartServer(sf.Engine.GRPCPort)
	if err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	opts := []SchedulerOption{WithHealth(e.transport.SetServing)}
	if st.Kafka.Rate.BackpressureEnabled {
		opts = append(opts, WithRateObserver(est))
	}
	if st.Kafka.LocationStrategy != kafka.PreferConsistent {
		opts = append(opts, WithPlacement(e.stream))
	}
	e.scheduler = NewScheduler(Schedule{
		Interval:               sf.BatchInterval,
		Retention:              sf.Checkpoint.Retention,
		MaxConsecutiveFailures: sf.Engine.MaxConsecutiveFailures,
	}, e.stream, checkpoint.NewRetention(e.store), e.runner, m, opts...)

	log.Info("engine ready",
		"driver", sf.Source.Driver,
		"topics", st.Kafka.Topics,
		"interval", sf.BatchInterval,
		"commit_mode", st.Kafka.CommitMode,
		"checkpoint", sf.Checkpoint.Backend,
		"sinks", sf.Sinks,
		"grpc_port", sf.Engine.GRPCPort,
		"metrics_port", sf.Engine.MetricsPort,
	)
	return e, nil
}

package telemetry

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"microbatch/internal/logging"
	"microbatch/source/kafka"
)

// Metrics is the batch metadata tracker. It also observes the consumption
// core (rebalances, lag, commits).
type Metrics struct {
	batches          prometheus.Counter
	records          prometheus.Counter
	recordsPerBatch  prometheus.Histogram
	tickFailures     prometheus.Counter
	checkpointErrors prometheus.Counter
	replayed         prometheus.Counter
	commits          *prometheus.CounterVec
	rebalances       *prometheus.CounterVec
	lag              *prometheus.GaugeVec
	rangeEnd         *prometheus.GaugeVec
	estimatedRate    prometheus.Gauge
	partitions       prometheus.Gauge
}

var _ kafka.Observer = (*Metrics)(nil)

func NewMetrics(r prometheus.Registerer) *Metrics {
	return &Metrics{
		batches: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "microbatch_batches_total",
			Help: "Batches emitted to the processing graph.",
		}),
		records: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "microbatch_records_total",
			Help: "Records covered by emitted batches.",
		}),
		recordsPerBatch: promauto.With(r).NewHistogram(prometheus.HistogramOpts{
			Name:    "microbatch_records_per_batch",
			Help:    "Records covered by a single batch.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 12),
		}),
		tickFailures: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "microbatch_tick_failures_total",
			Help: "Ticks that failed before emitting a batch.",
		}),
		checkpointErrors: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "microbatch_checkpoint_errors_total",
			Help: "Failed checkpoint writes or prunes.",
		}),
		replayed: promauto.With(r).NewCounter(prometheus.CounterOpts{
			Name: "microbatch_replayed_batches_total",
			Help: "Batches replayed from checkpoints at startup.",
		}),
		commits: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "microbatch_offset_commits_total",
			Help: "Offset commit calls by result.",
		}, []string{"result"}),
		rebalances: promauto.With(r).NewCounterVec(prometheus.CounterOpts{
			Name: "microbatch_rebalanced_partitions_total",
			Help: "Partitions added to or removed from the assignment.",
		}, []string{"change"}),
		lag: promauto.With(r).NewGaugeVec(prometheus.GaugeOpts{
			Name: "microbatch_partition_lag",
			Help: "Records between the ledger and the log end at the last tick.",
		}, []string{"topic", "partition"}),
		rangeEnd: promauto.With(r).NewGaugeVec(prometheus.GaugeOpts{
			Name: "microbatch_partition_until_offset",
			Help: "Until-offset of the last batch per partition.",
		}, []string{"topic", "partition"}),
		estimatedRate: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "microbatch_estimated_rate",
			Help: "Latest backpressure rate estimate in records per second.",
		}),
		partitions: promauto.With(r).NewGauge(prometheus.GaugeOpts{
			Name: "microbatch_ledger_partitions",
			Help: "Partitions tracked by the offset ledger.",
		}),
	}
}

func labels(tp kafka.PartitionKey) []string {
	return []string{tp.Topic, strconv.Itoa(int(tp.Partition))}
}

func (m *Metrics) Rebalanced(added, removed []kafka.PartitionKey) {
	m.rebalances.WithLabelValues("added").Add(float64(len(added)))
	m.rebalances.WithLabelValues("removed").Add(float64(len(removed)))
	for _, tp := range removed {
		m.lag.DeleteLabelValues(labels(tp)...)
		m.rangeEnd.DeleteLabelValues(labels(tp)...)
	}
}

func (m *Metrics) Lag(tp kafka.PartitionKey, lag int64) {
	m.lag.WithLabelValues(labels(tp)...).Set(float64(lag))
}

func (m *Metrics) Committed(_ kafka.Offsets, err error) {
	if err != nil {
		m.commits.WithLabelValues("failure").Inc()
		return
	}
	m.commits.WithLabelValues("success").Inc()
}

// ReportBatch records the metadata of an emitted batch.
func (m *Metrics) ReportBatch(d kafka.BatchDescriptor) {
	n := d.RecordCount()
	m.batches.Inc()
	m.records.Add(float64(n))
	m.recordsPerBatch.Observe(float64(n))
	for _, r := range d.Ranges {
		m.rangeEnd.WithLabelValues(labels(r.Partition)...).Set(float64(r.Until))
	}
}

func (m *Metrics) TickFailed()                { m.tickFailures.Inc() }
func (m *Metrics) CheckpointFailed()          { m.checkpointErrors.Inc() }
func (m *Metrics) Replayed(n int)             { m.replayed.Add(float64(n)) }
func (m *Metrics) SetEstimatedRate(r float64) { m.estimatedRate.Set(r) }
func (m *Metrics) SetPartitions(n int)        { m.partitions.Set(float64(n)) }

// Expose serves /metrics for g on port until the returned server is shut
// down.
func Expose(port int, g prometheus.Gatherer) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.For("telemetry").Error("metrics endpoint stopped", "err", err)
		}
	}()
	return srv
}

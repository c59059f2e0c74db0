package telemetry

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microbatch/source/kafka"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	a := kafka.PartitionKey{Topic: "events", Partition: 0}
	b := kafka.PartitionKey{Topic: "events", Partition: 1}

	m.ReportBatch(kafka.BatchDescriptor{Time: time.Unix(1, 0), Ranges: []kafka.OffsetRange{
		{Partition: a, From: 0, Until: 10},
		{Partition: b, From: 4, Until: 6},
	}})
	m.Lag(a, 3)
	m.Lag(b, 7)
	m.Committed(kafka.Offsets{a: 10}, nil)
	m.Committed(kafka.Offsets{a: 10}, errors.New("boom"))
	m.TickFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.batches))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.records))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.commits.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tickFailures))

	m.Rebalanced([]kafka.PartitionKey{{Topic: "events", Partition: 2}}, []kafka.PartitionKey{b})
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP microbatch_partition_lag Records between the ledger and the log end at the last tick.
# TYPE microbatch_partition_lag gauge
microbatch_partition_lag{partition="0",topic="events"} 3
`), "microbatch_partition_lag"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rebalances.WithLabelValues("removed")))
}

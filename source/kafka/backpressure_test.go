package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func backpressureConfig(initial float64) Config {
	cfg := testConfig()
	cfg.Rate.BackpressureEnabled = true
	cfg.Rate.InitialRate = initial
	return cfg
}

func TestRateLimiter_ProportionalToLag(t *testing.T) {
	r := NewRateLimiter(backpressureConfig(0), fixedRate(40))

	caps, ok := r.MaxMessagesPerPartition(
		Offsets{tpA0: 100, tpB0: 300},
		Offsets{tpA0: 0, tpB0: 0},
		time.Second,
	)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 10, tpB0: 30}, caps)
	assert.Equal(t, RateState{LastEstimatedRate: 40}, r.State())

	caps, _ = r.MaxMessagesPerPartition(
		Offsets{tpA0: 100, tpB0: 300},
		Offsets{tpA0: 0, tpB0: 0},
		500*time.Millisecond,
	)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 5, tpB0: 15}, caps)
}

func TestRateLimiter_FloorOfOne(t *testing.T) {
	r := NewRateLimiter(backpressureConfig(0), fixedRate(1))

	caps, ok := r.MaxMessagesPerPartition(
		Offsets{tpA0: 1, tpB0: 999},
		Offsets{tpA0: 0, tpB0: 0},
		time.Second,
	)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 1, tpB0: 1}, caps)
}

func TestRateLimiter_ConfiguredFloor(t *testing.T) {
	cfg := backpressureConfig(0)
	cfg.Rate.MinRatePerPartition = 25
	r := NewRateLimiter(cfg, fixedRate(40))

	caps, _ := r.MaxMessagesPerPartition(Offsets{tpA0: 100, tpB0: 300}, Offsets{tpA0: 0, tpB0: 0}, time.Second)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 25, tpB0: 30}, caps)
}

func TestRateLimiter_StaticMaxBoundsShare(t *testing.T) {
	cfg := backpressureConfig(0)
	cfg.Rate.MaxRatePerPartition = 20
	r := NewRateLimiter(cfg, fixedRate(40))

	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 100, tpB0: 300}, Offsets{tpA0: 0, tpB0: 0}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 10, tpB0: 20}, caps)
}

func TestRateLimiter_NoLagFallsBackToStatic(t *testing.T) {
	cfg := backpressureConfig(0)
	r := NewRateLimiter(cfg, fixedRate(40))
	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 5}, Offsets{tpA0: 5}, time.Second)
	assert.False(t, ok)
	assert.Nil(t, caps)

	cfg.Rate.MaxRatePerPartition = 7
	r = NewRateLimiter(cfg, fixedRate(40))
	caps, ok = r.MaxMessagesPerPartition(Offsets{tpA0: 5}, Offsets{tpA0: 5}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 7}, caps)
}

func TestRateLimiter_StaticOnly(t *testing.T) {
	cfg := testConfig()
	r := NewRateLimiter(cfg, fixedRate(40)) // ignored: backpressure disabled
	_, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 100}, Offsets{tpA0: 0}, time.Second)
	assert.False(t, ok, "no budget means no cap")

	cfg.Rate.PartitionMaxRates = map[string]float64{"A": 3}
	r = NewRateLimiter(cfg, nil)
	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 100, tpB0: 100}, Offsets{tpA0: 0, tpB0: 0}, 2*time.Second)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 6}, caps, "B has no limit and stays uncapped")
}

func TestRateLimiter_HugeMaxRateIsUncapped(t *testing.T) {
	cfg := testConfig()
	cfg.Rate.MaxRatePerPartition = 1e20
	cfg.Rate.PartitionMaxRates = map[string]float64{"B": 4}
	r := NewRateLimiter(cfg, nil)

	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 1000, tpB0: 1000}, Offsets{tpA0: 0, tpB0: 0}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpB0: 4}, caps)
}

func TestRateLimiter_InitialRateUntilEstimate(t *testing.T) {
	est := &switchableRate{rate: -1}
	r := NewRateLimiter(backpressureConfig(20), est)

	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 100}, Offsets{tpA0: 0}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 20}, caps)

	est.rate = 50
	caps, _ = r.MaxMessagesPerPartition(Offsets{tpA0: 100}, Offsets{tpA0: 0}, time.Second)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 50}, caps)

	// a missing estimate later keeps the last usable one
	est.rate = 0
	caps, _ = r.MaxMessagesPerPartition(Offsets{tpA0: 100}, Offsets{tpA0: 0}, time.Second)
	assert.Equal(t, map[PartitionKey]int64{tpA0: 50}, caps)
	assert.Equal(t, RateState{LastEstimatedRate: 50, InitialRate: 20}, r.State())
}

func TestRateLimiter_NewPartitionHasNoLag(t *testing.T) {
	r := NewRateLimiter(backpressureConfig(0), fixedRate(40))
	caps, ok := r.MaxMessagesPerPartition(Offsets{tpA0: 100, tpB0: 50}, Offsets{tpA0: 0}, time.Second)
	assert.True(t, ok)
	assert.Equal(t, int64(40), caps[tpA0])
	assert.Equal(t, int64(1), caps[tpB0])
}

type switchableRate struct{ rate float64 }

func (s *switchableRate) LatestRate() float64 { return s.rate }

package kafka

import (
	"math"
	"sync"
	"time"
)

// RateState carries the most recent usable backpressure estimate.
type RateState struct {
	LastEstimatedRate float64
	InitialRate       float64
}

// RateLimiter turns a global msg/s target into per-partition message caps
// for one tick.
type RateLimiter struct {
	cfg Config
	est Estimator // nil unless backpressure is enabled

	mu    sync.Mutex
	state RateState
}

func NewRateLimiter(cfg Config, est Estimator) *RateLimiter {
	if !cfg.Rate.BackpressureEnabled {
		est = nil
	}
	return &RateLimiter{
		cfg:   cfg,
		est:   est,
		state: RateState{InitialRate: cfg.Rate.InitialRate},
	}
}

func (r *RateLimiter) State() RateState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// estimatedRate returns the latest positive estimate, falling back to the
// initial rate until the estimator has produced one.
func (r *RateLimiter) estimatedRate() (float64, bool) {
	if r.est == nil {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if lr := r.est.LatestRate(); lr > 0 {
		r.state.LastEstimatedRate = lr
	}
	switch {
	case r.state.LastEstimatedRate > 0:
		return r.state.LastEstimatedRate, true
	case r.state.InitialRate > 0:
		return r.state.InitialRate, true
	}
	return 0, false
}

// MaxMessagesPerPartition returns the message cap of every capped partition
// for a tick of the given length. ok is false when nothing is capped.
// Partitions absent from the result are unbounded.
func (r *RateLimiter) MaxMessagesPerPartition(latest, current Offsets, interval time.Duration) (caps map[PartitionKey]int64, ok bool) {
	var rates map[PartitionKey]float64

	if est, has := r.estimatedRate(); has {
		lags := make(map[PartitionKey]int64, len(latest))
		var totalLag int64
		for tp, end := range latest {
			lag := end - current[tp]
			if _, tracked := current[tp]; !tracked || lag < 0 {
				lag = 0
			}
			lags[tp] = lag
			totalLag += lag
		}
		// no backlog anywhere: static caps only
		if totalLag > 0 {
			rates = make(map[PartitionKey]float64, len(lags))
			for tp, lag := range lags {
				share := float64(lag) / float64(totalLag) * est
				if max := r.cfg.MaxRatePerPartition(tp); max > 0 && max < share {
					share = max
				}
				rates[tp] = share
			}
		}
	}

	if rates == nil {
		rates = make(map[PartitionKey]float64, len(latest))
		for tp := range latest {
			if max := r.cfg.MaxRatePerPartition(tp); max > 0 {
				rates[tp] = max
			}
		}
	}

	var total float64
	for _, rate := range rates {
		total += rate
	}
	if total <= 0 {
		return nil, false
	}

	secs := interval.Seconds()
	floor := r.cfg.Rate.MinRatePerPartition
	if floor < 1 {
		floor = 1
	}
	caps = make(map[PartitionKey]int64, len(rates))
	for tp, rate := range rates {
		f := math.Floor(rate * secs)
		if f >= math.MaxInt64 {
			// beyond any offset distance: leave the partition uncapped
			continue
		}
		n := int64(f)
		if n < floor {
			n = floor
		}
		caps[tp] = n
	}
	return caps, true
}

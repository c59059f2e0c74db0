package kafka

import (
	"math"
	"sync"
	"time"
)

// BatchStats describes one completed batch.
type BatchStats struct {
	Time            time.Time // batch (tick) time
	Records         int64
	ProcessingDelay time.Duration
	SchedulingDelay time.Duration
}

// PIDEstimator derives an ingestion rate from batch completion stats with
// a proportional-integral-derivative controller. The error term is the gap
// between the current rate and the observed processing rate; the integral
// term is the backlog implied by scheduling delay.
type PIDEstimator struct {
	interval time.Duration
	kp       float64
	ki       float64
	kd       float64
	minRate  float64

	mu          sync.Mutex
	firstRun    bool
	latestTime  time.Time
	latestRate  float64
	latestError float64
	hasEstimate bool
}

func NewPIDEstimator(interval time.Duration, cfg PIDCfg) *PIDEstimator {
	if interval <= 0 {
		interval = time.Second
	}
	return &PIDEstimator{
		interval:   interval,
		kp:         cfg.Proportional,
		ki:         cfg.Integral,
		kd:         cfg.Derivative,
		minRate:    cfg.MinRate,
		firstRun:   true,
		latestRate: -1,
	}
}

// LatestRate returns -1 until the second valid observation.
func (e *PIDEstimator) LatestRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.hasEstimate {
		return -1
	}
	return e.latestRate
}

// Observe feeds one batch. It reports the new rate and whether one was
// produced; the first valid observation only seeds the controller.
func (e *PIDEstimator) Observe(s BatchStats) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !s.Time.After(e.latestTime) || s.Records <= 0 || s.ProcessingDelay <= 0 {
		return 0, false
	}

	sinceUpdate := s.Time.Sub(e.latestTime).Seconds()
	processingRate := float64(s.Records) / s.ProcessingDelay.Seconds()
	err := e.latestRate - processingRate
	historical := s.SchedulingDelay.Seconds() * processingRate / e.interval.Seconds()
	dErr := (err - e.latestError) / sinceUpdate

	next := math.Max(e.latestRate-e.kp*err-e.ki*historical-e.kd*dErr, e.minRate)
	e.latestTime = s.Time

	if e.firstRun {
		e.latestRate = processingRate
		e.latestError = 0
		e.firstRun = false
		return 0, false
	}
	e.latestRate = next
	e.latestError = err
	e.hasEstimate = true
	return next, true
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"microbatch/checkpoint"
	"microbatch/internal/logging"
	"microbatch/internal/telemetry"
	"microbatch/source/kafka"
)

// Handler processes one planned batch downstream.
type Handler interface {
	Handle(ctx context.Context, d kafka.BatchDescriptor) error
}

type HandlerFunc func(context.Context, kafka.BatchDescriptor) error

func (f HandlerFunc) Handle(ctx context.Context, d kafka.BatchDescriptor) error { return f(ctx, d) }

// Source is the part of the consumption core the scheduler drives.
type Source interface {
	kafka.BatchSource
	Start(replayed []kafka.BatchDescriptor) error
	CurrentOffsets() kafka.Offsets
}

// RateObserver receives completion stats of every handled batch.
type RateObserver interface {
	Observe(kafka.BatchStats) (float64, bool)
}

// Placement suggests the host each partition of a batch should be read on.
type Placement interface {
	PreferredHosts([]kafka.OffsetRange) (map[kafka.PartitionKey]string, error)
}

type Schedule struct {
	Interval               time.Duration
	Retention              time.Duration // <= 0 keeps every checkpoint
	MaxConsecutiveFailures int           // 0 retries forever
}

type SchedulerOption func(*Scheduler)

func WithRateObserver(o RateObserver) SchedulerOption {
	return func(s *Scheduler) { s.rates = o }
}

// WithPlacement logs the preferred host of every non-empty range per batch.
func WithPlacement(p Placement) SchedulerOption {
	return func(s *Scheduler) { s.placement = p }
}

// WithHealth is called with the outcome of every tick.
func WithHealth(fn func(serving bool)) SchedulerOption {
	return func(s *Scheduler) { s.health = fn }
}

func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler fires PlanNextBatch on a fixed interval, checkpoints every
// descriptor before handing it to the handler and prunes confirmed ones.
type Scheduler struct {
	cfg     Schedule
	src     Source
	store   *checkpoint.Retention
	handler Handler
	metrics *telemetry.Metrics
	rates   RateObserver
	health  func(bool)
	now     func() time.Time
	log     *slog.Logger

	placement Placement
}

func NewScheduler(cfg Schedule, src Source, store *checkpoint.Retention, h Handler, m *telemetry.Metrics, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		cfg:     cfg,
		src:     src,
		store:   store,
		handler: h,
		metrics: m,
		health:  func(bool) {},
		now:     time.Now,
		log:     logging.For("scheduler"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Run replays checkpointed batches, seeds the source and then ticks until
// ctx is done or too many consecutive ticks fail.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.resume(ctx); err != nil {
		return err
	}

	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case ts := <-t.C:
			err := s.Tick(ctx, ts)
			if err == nil {
				failures = 0
				s.health(true)
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			failures++
			s.metrics.TickFailed()
			s.health(false)
			s.log.Error("tick failed", "err", err, "consecutive", failures)
			if s.cfg.MaxConsecutiveFailures > 0 && failures >= s.cfg.MaxConsecutiveFailures {
				return fmt.Errorf("giving up after %d consecutive failures: %w", failures, err)
			}
		}
	}
}

func (s *Scheduler) resume(ctx context.Context) error {
	replayed, err := s.store.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay checkpoints: %w", err)
	}
	if err := s.src.Start(replayed); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	s.metrics.Replayed(len(replayed))
	if len(replayed) > 0 {
		s.log.Info("resuming from checkpoints", "batches", len(replayed), "last", replayed[len(replayed)-1].Time)
	}
	for _, d := range replayed {
		if err := s.handler.Handle(ctx, d); err != nil {
			return fmt.Errorf("replay batch %s: %w", d.Time.Format(time.RFC3339Nano), err)
		}
		s.store.Confirm(d.Time)
	}
	return nil
}

// Tick plans, checkpoints and handles the batch for ts. A failed plan
// leaves the ledger untouched so the next tick retries from the same
// offsets.
func (s *Scheduler) Tick(ctx context.Context, ts time.Time) error {
	d, err := s.src.PlanNextBatch(ts)
	if err != nil {
		return fmt.Errorf("plan batch: %w", err)
	}
	if err := s.store.Record(ctx, d); err != nil {
		s.metrics.CheckpointFailed()
		s.log.Warn("checkpoint write failed", "time", d.Time, "err", err)
	}
	s.metrics.ReportBatch(d)
	s.metrics.SetPartitions(len(s.src.CurrentOffsets()))
	s.place(d)

	start := s.now()
	if err := s.handler.Handle(ctx, d); err != nil {
		return fmt.Errorf("handle batch %s: %w", d.Time.Format(time.RFC3339Nano), err)
	}
	s.store.Confirm(d.Time)
	s.observe(d, ts, start)

	if s.cfg.Retention > 0 {
		if err := s.store.Prune(ctx, ts.Add(-s.cfg.Retention)); err != nil {
			s.metrics.CheckpointFailed()
			s.log.Warn("checkpoint prune failed", "err", err)
		}
	}
	return nil
}

func (s *Scheduler) place(d kafka.BatchDescriptor) {
	ranges := d.NonEmpty()
	if s.placement == nil || len(ranges) == 0 {
		return
	}
	hosts, err := s.placement.PreferredHosts(ranges)
	if err != nil {
		s.log.Warn("placement lookup failed", "time", d.Time, "err", err)
		return
	}
	for _, r := range ranges {
		if h, ok := hosts[r.Partition]; ok {
			s.log.Info("preferred host", "topic", r.Partition.Topic, "partition", r.Partition.Partition, "host", h)
		}
	}
}

func (s *Scheduler) observe(d kafka.BatchDescriptor, ts, start time.Time) {
	if s.rates == nil {
		return
	}
	rate, ok := s.rates.Observe(kafka.BatchStats{
		Time:            ts,
		Records:         d.RecordCount(),
		ProcessingDelay: s.now().Sub(start),
		SchedulingDelay: start.Sub(ts),
	})
	if ok {
		s.metrics.SetEstimatedRate(rate)
		s.log.Debug("rate estimate updated", "rate", rate)
	}
}

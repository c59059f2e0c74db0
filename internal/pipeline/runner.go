package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hashicorp/go-multierror"

	"microbatch/internal/logging"
	"microbatch/sink"
	"microbatch/source/kafka"
)

// Committer issues out-of-band commits for fully handled batches.
type Committer interface {
	CommitImmediate([]kafka.OffsetRange, kafka.CommitCallback)
}

// Runner hands every batch to the configured sinks in order. With a
// committer attached (e2e commit mode) it commits a batch's ranges once
// every sink accepted it.
type Runner struct {
	sinks     []sink.Adapter
	committer Committer
	log       *slog.Logger
}

func NewRunner() *Runner { return &Runner{log: logging.For("pipeline")} }

func (r *Runner) AddSink(s sink.Adapter) { r.sinks = append(r.sinks, s) }

// CommitAfterSinks enables end-to-end commits through c.
func (r *Runner) CommitAfterSinks(c Committer) { r.committer = c }

func (r *Runner) Handle(ctx context.Context, d kafka.BatchDescriptor) error {
	for i, s := range r.sinks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Push(d); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
	}
	if r.committer == nil {
		return nil
	}
	ranges := d.NonEmpty()
	if len(ranges) == 0 {
		return nil
	}
	r.committer.CommitImmediate(ranges, func(off kafka.Offsets, err error) {
		if err != nil {
			r.log.Warn("end-to-end commit failed", "batch", d.Time, "err", err)
			return
		}
		r.log.Debug("end-to-end commit done", "batch", d.Time, "partitions", len(off))
	})
	return nil
}

func (r *Runner) Close() error {
	var errs *multierror.Error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

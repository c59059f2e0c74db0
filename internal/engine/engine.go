package engine

import (
	"context"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"microbatch/checkpoint"
	"microbatch/internal/pipeline"
	"microbatch/internal/transport"
	"microbatch/source/kafka"
)

type Engine struct {
	transport *transport.Server
	metrics   *http.Server
	scheduler *Scheduler
	stream    *kafka.DirectStream
	store     checkpoint.Store
	runner    *pipeline.Runner
}

// Run serves health checks and drives the scheduler until ctx is done or
// the scheduler gives up.
func (e *Engine) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(e.transport.Serve)
	g.Go(func() error {
		<-ctx.Done()
		e.transport.Stop()
		return nil
	})
	g.Go(func() error { return e.scheduler.Run(ctx) })
	return g.Wait()
}

// Close releases the stream, the sinks, the checkpoint store and the
// metrics endpoint.
func (e *Engine) Close() error {
	var errs *multierror.Error
	if e.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := e.metrics.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
		cancel()
	}
	if e.stream != nil {
		if err := e.stream.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if e.runner != nil {
		if err := e.runner.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

package kafka

import (
	"log/slog"
	"time"

	"microbatch/internal/logging"
)

// BatchSource is what a scheduling engine needs from the consumption core.
type BatchSource interface {
	PlanNextBatch(time.Time) (BatchDescriptor, error)
	CommitImmediate([]OffsetRange, CommitCallback)
}

var _ BatchSource = (*DirectStream)(nil)

type Option func(*DirectStream)

// WithEstimator plugs a backpressure estimator in. It is only consulted when
// rate.backpressure_enabled is set.
func WithEstimator(e Estimator) Option { return func(s *DirectStream) { s.est = e } }

func WithObserver(o Observer) Option { return func(s *DirectStream) { s.obs = o } }

func WithLogger(l *slog.Logger) Option { return func(s *DirectStream) { s.log = l } }

// DirectStream composes a configured Client with the offset ledger, rate
// limiter, planner and commit coordinator.
type DirectStream struct {
	cfg    Config
	client *guardedClient
	est    Estimator
	obs    Observer
	log    *slog.Logger

	ledger  *Ledger
	limiter *RateLimiter
	commits *CommitCoordinator
	planner *Planner
}

func NewDirectStream(cfg Config, client Client, interval time.Duration, opts ...Option) *DirectStream {
	s := &DirectStream{
		cfg:    cfg,
		client: &guardedClient{c: client},
		obs:    nopObserver{},
		log:    logging.For("direct-stream"),
	}
	for _, o := range opts {
		o(s)
	}
	s.ledger = NewLedger()
	s.limiter = NewRateLimiter(cfg, s.est)
	s.commits = newCommitCoordinator(s.client, s.obs, s.log)
	s.planner = &Planner{
		client:   s.client,
		ledger:   s.ledger,
		limiter:  s.limiter,
		commits:  s.commits,
		mode:     cfg.CommitMode,
		interval: interval,
		poll:     cfg.PollTimeout,
		obs:      s.obs,
		log:      s.log,
	}
	return s
}

// Start seeds the ledger from replayed checkpoints or the client.
func (s *DirectStream) Start(replayed []BatchDescriptor) error {
	return s.planner.Start(replayed)
}

func (s *DirectStream) PlanNextBatch(ts time.Time) (BatchDescriptor, error) {
	return s.planner.PlanNextBatch(ts)
}

func (s *DirectStream) CommitImmediate(ranges []OffsetRange, cb CommitCallback) {
	s.commits.CommitImmediate(ranges, cb)
}

// EnqueueDeferred queues ranges for the commit issued at the end of the
// next tick.
func (s *DirectStream) EnqueueDeferred(ranges ...OffsetRange) {
	s.commits.EnqueueDeferred(ranges...)
}

func (s *DirectStream) SetCommitCallback(cb CommitCallback) {
	s.commits.SetCallback(cb)
}

func (s *DirectStream) CurrentOffsets() Offsets { return s.ledger.Read() }

func (s *DirectStream) RateState() RateState { return s.limiter.State() }

func (s *DirectStream) CommitMode() CommitMode { return s.cfg.CommitMode }

func (s *DirectStream) Close() error {
	return s.client.do(func(c Client) error { return c.Close() })
}

package checkpoint

import (
	"context"
	"sync"
	"time"

	"microbatch/source/kafka"
)

// Retention wraps a Store and refuses to prune descriptors the downstream
// engine has not confirmed. Everything recorded or replayed starts out
// unconfirmed.
type Retention struct {
	Store

	mu      sync.Mutex
	pending map[int64]struct{}
}

func NewRetention(s Store) *Retention {
	return &Retention{Store: s, pending: make(map[int64]struct{})}
}

func (r *Retention) Record(ctx context.Context, d kafka.BatchDescriptor) error {
	if err := r.Store.Record(ctx, d); err != nil {
		return err
	}
	r.mu.Lock()
	r.pending[d.Time.UnixNano()] = struct{}{}
	r.mu.Unlock()
	return nil
}

func (r *Retention) Replay(ctx context.Context) ([]kafka.BatchDescriptor, error) {
	ds, err := r.Store.Replay(ctx)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	for _, d := range ds {
		r.pending[d.Time.UnixNano()] = struct{}{}
	}
	r.mu.Unlock()
	return ds, nil
}

// Confirm marks the batch at ts as processed downstream.
func (r *Retention) Confirm(ts time.Time) {
	r.mu.Lock()
	delete(r.pending, ts.UnixNano())
	r.mu.Unlock()
}

// Unconfirmed is the number of recorded batches awaiting confirmation.
func (r *Retention) Unconfirmed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Prune drops descriptors older than before, but never at or past the
// earliest unconfirmed one.
func (r *Retention) Prune(ctx context.Context, before time.Time) error {
	cut := before.UnixNano()
	r.mu.Lock()
	for ts := range r.pending {
		if ts < cut {
			cut = ts
		}
	}
	r.mu.Unlock()
	return r.Store.Prune(ctx, time.Unix(0, cut))
}

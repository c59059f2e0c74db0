// Package checkpoint persists finalized batch descriptors keyed by batch
// time and replays them in ascending time order on restart.
package checkpoint

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"microbatch/source/kafka"
)

// Store is a durable map from batch time to descriptor.
type Store interface {
	// Record overwrites any descriptor already stored for d.Time.
	Record(ctx context.Context, d kafka.BatchDescriptor) error
	// Replay returns every descriptor in ascending time order.
	Replay(ctx context.Context) ([]kafka.BatchDescriptor, error)
	// Prune drops descriptors strictly older than before.
	Prune(ctx context.Context, before time.Time) error
	Close() error
}

/*──────── registry ───────*/

// Options is the union of what the backends need.
type Options struct {
	Path      string // bolt file
	RedisAddr string
	RedisDB   int
	KeyPrefix string
}

type factory = func(Options) (Store, error)

var (
	regMu sync.RWMutex
	reg   = map[string]factory{"memory": func(Options) (Store, error) { return NewMemory(), nil }}
)

func Register(name string, f factory) {
	regMu.Lock()
	reg[name] = f
	regMu.Unlock()
}

func Open(backend string, opts Options) (Store, error) {
	regMu.RLock()
	f, ok := reg[backend]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown checkpoint backend %q", backend)
	}
	return f(opts)
}

// SortByTime orders descriptors by ascending batch time.
func SortByTime(ds []kafka.BatchDescriptor) {
	slices.SortFunc(ds, func(a, b kafka.BatchDescriptor) int { return a.Time.Compare(b.Time) })
}

package kafka

import (
	"sync"
	"sync/atomic"
)

// Ledger owns the next-offset-to-read of every tracked partition. Readers
// load an immutable snapshot; writers build a new map and swap it in, so a
// read never observes a half-applied update.
type Ledger struct {
	mu          sync.Mutex // serializes writers
	cur         atomic.Pointer[Offsets]
	initialized bool
}

func NewLedger() *Ledger {
	l := &Ledger{}
	empty := Offsets{}
	l.cur.Store(&empty)
	return l
}

// Read returns a copy of the current offsets.
func (l *Ledger) Read() Offsets {
	return l.cur.Load().Clone()
}

func (l *Ledger) Len() int { return len(*l.cur.Load()) }

// Initialize seeds the ledger at startup. A second call fails with
// ErrAlreadyInitialized.
func (l *Ledger) Initialize(positions Offsets) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.initialized {
		return ErrAlreadyInitialized
	}
	next := positions.Clone()
	l.cur.Store(&next)
	l.initialized = true
	return nil
}

func (l *Ledger) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// Advance replaces the ledger wholesale.
func (l *Ledger) Advance(next Offsets) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := next.Clone()
	l.cur.Store(&snap)
	l.initialized = true
}

// Reconcile makes the tracked partition set equal to assigned. New
// partitions are seeded from position; revoked ones are dropped. Nothing is
// changed if a position lookup fails.
func (l *Ledger) Reconcile(assigned []PartitionKey, position func(PartitionKey) (int64, error)) (added, removed []PartitionKey, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := *l.cur.Load()
	want := make(map[PartitionKey]struct{}, len(assigned))
	for _, tp := range assigned {
		want[tp] = struct{}{}
	}

	next := make(Offsets, len(assigned))
	for tp := range want {
		if off, ok := cur[tp]; ok {
			next[tp] = off
			continue
		}
		off, err := position(tp)
		if err != nil {
			return nil, nil, err
		}
		next[tp] = off
		added = append(added, tp)
	}
	for tp := range cur {
		if _, ok := want[tp]; !ok {
			removed = append(removed, tp)
		}
	}
	SortKeys(added)
	SortKeys(removed)

	if len(added) > 0 || len(removed) > 0 {
		l.cur.Store(&next)
	}
	return added, removed, nil
}

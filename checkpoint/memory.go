package checkpoint

import (
	"context"
	"slices"
	"sync"
	"time"

	"microbatch/source/kafka"
)

// Memory keeps descriptors in process memory. It survives a stream restart
// inside one process, which is what tests and the default config need.
type Memory struct {
	mu      sync.Mutex
	entries map[int64]kafka.BatchDescriptor
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[int64]kafka.BatchDescriptor)}
}

func (m *Memory) Record(_ context.Context, d kafka.BatchDescriptor) error {
	d.Ranges = slices.Clone(d.Ranges)
	m.mu.Lock()
	m.entries[d.Time.UnixNano()] = d
	m.mu.Unlock()
	return nil
}

func (m *Memory) Replay(context.Context) ([]kafka.BatchDescriptor, error) {
	m.mu.Lock()
	out := make([]kafka.BatchDescriptor, 0, len(m.entries))
	for _, d := range m.entries {
		d.Ranges = slices.Clone(d.Ranges)
		out = append(out, d)
	}
	m.mu.Unlock()
	SortByTime(out)
	return out, nil
}

func (m *Memory) Prune(_ context.Context, before time.Time) error {
	cut := before.UnixNano()
	m.mu.Lock()
	for ts := range m.entries {
		if ts < cut {
			delete(m.entries, ts)
		}
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Close() error { return nil }

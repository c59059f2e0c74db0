package kafka

import "sync"

// guardedClient is the single exclusion scope around the shared client
// handle. Planning passes and commits never interleave their client calls.
type guardedClient struct {
	mu sync.Mutex
	c  Client
}

func (g *guardedClient) do(fn func(Client) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.c)
}

func (g *guardedClient) run(fn func(Client)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.c)
}

// Observer receives bookkeeping events from the consumption core.
type Observer interface {
	Rebalanced(added, removed []PartitionKey)
	Lag(tp PartitionKey, lag int64)
	Committed(offsets Offsets, err error)
}

type nopObserver struct{}

func (nopObserver) Rebalanced(_, _ []PartitionKey) {}
func (nopObserver) Lag(PartitionKey, int64)        {}
func (nopObserver) Committed(Offsets, error)       {}

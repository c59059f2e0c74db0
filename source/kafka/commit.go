package kafka

import (
	"log/slog"
	"sync"
)

// CommitCoordinator coalesces requested commits into at most one client
// call per flush, keeping the highest until-offset of every partition.
type CommitCoordinator struct {
	client *guardedClient
	obs    Observer
	log    *slog.Logger

	mu    sync.Mutex // guards queue and cb
	queue []OffsetRange
	cb    CommitCallback // nil = no callback
}

func newCommitCoordinator(client *guardedClient, obs Observer, log *slog.Logger) *CommitCoordinator {
	return &CommitCoordinator{client: client, obs: obs, log: log}
}

// EnqueueDeferred appends ranges to be committed by the next flush.
func (c *CommitCoordinator) EnqueueDeferred(ranges ...OffsetRange) {
	if len(ranges) == 0 {
		return
	}
	c.mu.Lock()
	c.queue = append(c.queue, ranges...)
	c.mu.Unlock()
}

// SetCallback replaces the callback of the next flush. Last writer wins.
func (c *CommitCoordinator) SetCallback(cb CommitCallback) {
	c.mu.Lock()
	c.cb = cb
	c.mu.Unlock()
}

// Pending is the number of queued ranges.
func (c *CommitCoordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// FlushQueuedCommits drains the queue and issues one asynchronous commit of
// the merged offsets. Nothing happens if every queued range is empty.
func (c *CommitCoordinator) FlushQueuedCommits() {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	cb := c.cb
	c.mu.Unlock()

	c.commit(mergeMax(queued), cb)
}

// CommitImmediate commits ranges directly, bypassing the deferred queue.
func (c *CommitCoordinator) CommitImmediate(ranges []OffsetRange, cb CommitCallback) {
	c.commit(mergeMax(ranges), cb)
}

func (c *CommitCoordinator) commit(offsets Offsets, cb CommitCallback) {
	if len(offsets) == 0 {
		return
	}
	c.client.run(func(cl Client) {
		cl.CommitAsync(offsets, func(committed Offsets, err error) {
			c.obs.Committed(committed, err)
			if err != nil {
				c.log.Warn("offset commit failed", "partitions", len(committed), "err", err)
			}
			if cb != nil {
				cb(committed, err)
			}
		})
	})
	for _, tp := range offsets.Keys() {
		c.log.Info("committing offsets", "topic", tp.Topic, "partition", tp.Partition, "offset", offsets[tp])
	}
}

// mergeMax keeps the highest until-offset per partition, skipping empty
// ranges.
func mergeMax(ranges []OffsetRange) Offsets {
	out := make(Offsets)
	for _, r := range ranges {
		if r.Empty() {
			continue
		}
		if cur, ok := out[r.Partition]; !ok || r.Until > cur {
			out[r.Partition] = r.Until
		}
	}
	return out
}

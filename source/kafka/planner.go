package kafka

import (
	"log/slog"
	"time"
)

// Planner computes the offset range of every assigned partition for the
// next batch. Calls must not overlap; the scheduling engine drives it from a
// single goroutine.
type Planner struct {
	client   *guardedClient
	ledger   *Ledger
	limiter  *RateLimiter
	commits  *CommitCoordinator
	mode     CommitMode
	interval time.Duration
	poll     time.Duration
	obs      Observer
	log      *slog.Logger
}

// Start seeds the ledger. Replayed descriptors win over client positions so
// a restart resumes where the last checkpointed batch ended.
func (p *Planner) Start(replayed []BatchDescriptor) error {
	if p.ledger.Initialized() {
		return nil
	}
	if n := len(replayed); n > 0 {
		last := replayed[n-1]
		p.log.Info("resuming from checkpoint", "batch_time", last.Time, "partitions", len(last.Ranges))
		return p.ledger.Initialize(last.UntilOffsets())
	}

	positions := Offsets{}
	err := p.client.do(func(c Client) error {
		if err := p.paranoidPoll(c); err != nil {
			return err
		}
		assigned, err := c.Assignment()
		if err != nil {
			return clientIO("assignment", err)
		}
		for _, tp := range assigned {
			off, err := c.Position(tp)
			if err != nil {
				return clientIO("position", err)
			}
			positions[tp] = off
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.log.Info("starting from client positions", "partitions", len(positions))
	return p.ledger.Initialize(positions)
}

// PlanNextBatch runs one tick. On error nothing is emitted and the ledger
// offsets are left where the last successful tick put them.
func (p *Planner) PlanNextBatch(ts time.Time) (BatchDescriptor, error) {
	latest, err := p.latestOffsets()
	if err != nil {
		return BatchDescriptor{}, err
	}
	current := p.ledger.Read()
	until := p.clamp(current, latest)

	d := BatchDescriptor{Time: ts, Ranges: make([]OffsetRange, 0, len(until))}
	for _, tp := range until.Keys() {
		d.Ranges = append(d.Ranges, OffsetRange{Partition: tp, From: current[tp], Until: until[tp]})
	}

	p.ledger.Advance(until)
	if p.mode == CommitAuto {
		p.commits.EnqueueDeferred(d.NonEmpty()...)
	}
	p.commits.FlushQueuedCommits()

	p.log.Debug("batch planned", "batch_time", ts, "partitions", len(d.Ranges), "records", d.RecordCount())
	return d, nil
}

// latestOffsets covers discovery, reconciliation, pausing and the seek to
// the log end, all under the client lock.
func (p *Planner) latestOffsets() (Offsets, error) {
	latest := Offsets{}
	err := p.client.do(func(c Client) error {
		if err := p.paranoidPoll(c); err != nil {
			return err
		}
		assigned, err := c.Assignment()
		if err != nil {
			return clientIO("assignment", err)
		}

		added, removed, err := p.ledger.Reconcile(assigned, c.Position)
		if err != nil {
			return clientIO("position", err)
		}
		if len(added) > 0 || len(removed) > 0 {
			p.log.Info("rebalance observed", "added", keyStrings(added), "removed", keyStrings(removed))
			p.obs.Rebalanced(added, removed)
		}

		if err := pauseUnpaused(c, assigned); err != nil {
			return err
		}

		if len(assigned) == 0 {
			return nil
		}
		if err := c.SeekToEnd(assigned); err != nil {
			return clientIO("seek to end", err)
		}
		for _, tp := range assigned {
			off, err := c.Position(tp)
			if err != nil {
				return clientIO("position", err)
			}
			latest[tp] = off
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return latest, nil
}

// paranoidPoll guards against records the client buffered before pause took
// effect: every partition that returned data is rewound to the lowest
// offset seen so the ledger baseline is never skipped.
func (p *Planner) paranoidPoll(c Client) error {
	recs, err := c.Poll(p.poll)
	if err != nil {
		return clientIO("poll", err)
	}
	if len(recs) == 0 {
		return nil
	}
	lowest := Offsets{}
	for _, r := range recs {
		if off, ok := lowest[r.Partition]; !ok || r.Offset < off {
			lowest[r.Partition] = r.Offset
		}
	}
	for _, tp := range lowest.Keys() {
		p.log.Warn("poll returned buffered records, seeking back", "topic", tp.Topic, "partition", tp.Partition, "offset", lowest[tp])
		if err := c.Seek(tp, lowest[tp]); err != nil {
			return clientIO("seek", err)
		}
	}
	return nil
}

func pauseUnpaused(c Client, assigned []PartitionKey) error {
	paused := make(map[PartitionKey]struct{})
	for _, tp := range c.Paused() {
		paused[tp] = struct{}{}
	}
	var todo []PartitionKey
	for _, tp := range assigned {
		if _, ok := paused[tp]; !ok {
			todo = append(todo, tp)
		}
	}
	if len(todo) == 0 {
		return nil
	}
	if err := c.Pause(todo); err != nil {
		return clientIO("pause", err)
	}
	return nil
}

// clamp bounds latest by the rate limiter. The result never moves a
// partition backwards.
func (p *Planner) clamp(current, latest Offsets) Offsets {
	caps, capped := p.limiter.MaxMessagesPerPartition(latest, current, p.interval)
	until := make(Offsets, len(latest))
	for tp, end := range latest {
		from := current[tp]
		if end < from {
			p.log.Warn("latest offset behind ledger, emitting empty range", "topic", tp.Topic, "partition", tp.Partition, "latest", end, "current", from)
			end = from
		}
		p.obs.Lag(tp, end-from)
		if capped {
			if n, ok := caps[tp]; ok && n < end-from {
				end = from + n
			}
		}
		until[tp] = end
	}
	return until
}

func keyStrings(keys []PartitionKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

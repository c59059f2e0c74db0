package kafka

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// PartitionKey identifies one partition of a topic.
type PartitionKey struct {
	Topic     string
	Partition int32
}

func (k PartitionKey) String() string { return fmt.Sprintf("%s-%d", k.Topic, k.Partition) }

func lessKey(a, b PartitionKey) bool {
	if a.Topic != b.Topic {
		return a.Topic < b.Topic
	}
	return a.Partition < b.Partition
}

// SortKeys orders partitions by topic, then partition id.
func SortKeys(keys []PartitionKey) {
	sort.Slice(keys, func(i, j int) bool { return lessKey(keys[i], keys[j]) })
}

// Offsets maps a partition to an offset. Depending on the owner it is the
// next offset to read, the latest available offset or a commit position.
type Offsets map[PartitionKey]int64

func (o Offsets) Clone() Offsets {
	out := make(Offsets, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Keys returns the partitions in sorted order.
func (o Offsets) Keys() []PartitionKey {
	keys := make([]PartitionKey, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}

// OffsetRange is the half-open interval [From, Until) of one partition.
type OffsetRange struct {
	Partition PartitionKey
	From      int64
	Until     int64
}

func (r OffsetRange) Empty() bool  { return r.From == r.Until }
func (r OffsetRange) Count() int64 { return r.Until - r.From }

func (r OffsetRange) String() string {
	return fmt.Sprintf("topic: %s\tpartition: %d\toffsets: %d to %d",
		r.Partition.Topic, r.Partition.Partition, r.From, r.Until)
}

// BatchDescriptor is what one tick hands to the scheduling engine. Ranges
// are ordered by partition and include empty ranges.
type BatchDescriptor struct {
	Time   time.Time
	Ranges []OffsetRange
}

// NonEmpty returns the ranges that carry at least one record.
func (d BatchDescriptor) NonEmpty() []OffsetRange {
	out := make([]OffsetRange, 0, len(d.Ranges))
	for _, r := range d.Ranges {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	return out
}

func (d BatchDescriptor) RecordCount() int64 {
	var n int64
	for _, r := range d.Ranges {
		n += r.Count()
	}
	return n
}

// UntilOffsets is the ledger state after this batch.
func (d BatchDescriptor) UntilOffsets() Offsets {
	out := make(Offsets, len(d.Ranges))
	for _, r := range d.Ranges {
		out[r.Partition] = r.Until
	}
	return out
}

// Description renders one line per non-empty range.
func (d BatchDescriptor) Description() string {
	lines := make([]string, 0, len(d.Ranges))
	for _, r := range d.NonEmpty() {
		lines = append(lines, r.String())
	}
	return strings.Join(lines, "\n")
}

// Record is a single log entry position returned by a poll. Payloads never
// flow through this package.
type Record struct {
	Partition PartitionKey
	Offset    int64
}

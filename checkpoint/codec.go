package checkpoint

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"microbatch/source/kafka"
)

// Wire layout (protobuf compatible):
//
//	message Checkpoint { int64 time_unix_nano = 1; repeated Range ranges = 2; }
//	message Range { string topic = 1; int32 partition = 2; int64 from = 3; int64 until = 4; }
const (
	fieldTime   protowire.Number = 1
	fieldRanges protowire.Number = 2

	fieldTopic     protowire.Number = 1
	fieldPartition protowire.Number = 2
	fieldFrom      protowire.Number = 3
	fieldUntil     protowire.Number = 4
)

var errMalformed = errors.New("checkpoint: malformed record")

// Marshal encodes d in its durable form.
func Marshal(d kafka.BatchDescriptor) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTime, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(d.Time.UnixNano()))
	for _, r := range d.Ranges {
		b = protowire.AppendTag(b, fieldRanges, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalRange(r))
	}
	return b
}

func marshalRange(r kafka.OffsetRange) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, r.Partition.Topic)
	b = protowire.AppendTag(b, fieldPartition, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Partition.Partition))
	b = protowire.AppendTag(b, fieldFrom, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.From))
	b = protowire.AppendTag(b, fieldUntil, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Until))
	return b
}

// Unmarshal decodes a record written by Marshal. Unknown fields are skipped.
func Unmarshal(b []byte) (kafka.BatchDescriptor, error) {
	var d kafka.BatchDescriptor
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return d, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch {
		case num == fieldTime && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return d, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
			}
			d.Time = time.Unix(0, int64(v))
			b = b[n:]
		case num == fieldRanges && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return d, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
			}
			r, err := unmarshalRange(v)
			if err != nil {
				return d, err
			}
			d.Ranges = append(d.Ranges, r)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return d, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	return d, nil
}

func unmarshalRange(b []byte) (kafka.OffsetRange, error) {
	var r kafka.OffsetRange
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return r, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if num == fieldTopic && typ == protowire.BytesType {
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return r, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
			}
			r.Partition.Topic = s
			b = b[n:]
			continue
		}
		if typ != protowire.VarintType {
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return r, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return r, fmt.Errorf("%w: %w", errMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fieldPartition:
			r.Partition.Partition = int32(v)
		case fieldFrom:
			r.From = int64(v)
		case fieldUntil:
			r.Until = int64(v)
		}
	}
	if r.Until < r.From {
		return r, fmt.Errorf("%w: %s range [%d, %d)", errMalformed, r.Partition, r.From, r.Until)
	}
	return r, nil
}

// Package storetest holds the behaviour every checkpoint.Store backend must
// share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"microbatch/checkpoint"
	"microbatch/source/kafka"
)

func batch(sec int64, until int64) kafka.BatchDescriptor {
	return kafka.BatchDescriptor{
		Time: time.Unix(sec, 0),
		Ranges: []kafka.OffsetRange{
			{Partition: kafka.PartitionKey{Topic: "events", Partition: 0}, From: until - 5, Until: until},
			{Partition: kafka.PartitionKey{Topic: "events", Partition: 1}, From: 3, Until: 3},
		},
	}
}

// Run exercises a fresh store returned by open. open is called once per
// subtest.
func Run(t *testing.T, open func(t *testing.T) checkpoint.Store) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		s := open(t)
		ds, err := s.Replay(ctx)
		require.NoError(t, err)
		assert.Empty(t, ds)
	})

	t.Run("replay in time order", func(t *testing.T) {
		s := open(t)
		for _, d := range []kafka.BatchDescriptor{batch(30, 15), batch(10, 5), batch(20, 10)} {
			require.NoError(t, s.Record(ctx, d))
		}
		ds, err := s.Replay(ctx)
		require.NoError(t, err)
		assert.Equal(t, []kafka.BatchDescriptor{batch(10, 5), batch(20, 10), batch(30, 15)}, ds)
	})

	t.Run("record overwrites same time", func(t *testing.T) {
		s := open(t)
		require.NoError(t, s.Record(ctx, batch(10, 5)))
		require.NoError(t, s.Record(ctx, batch(10, 8)))
		ds, err := s.Replay(ctx)
		require.NoError(t, err)
		assert.Equal(t, []kafka.BatchDescriptor{batch(10, 8)}, ds)
	})

	t.Run("prune is strict", func(t *testing.T) {
		s := open(t)
		for sec := int64(1); sec <= 4; sec++ {
			require.NoError(t, s.Record(ctx, batch(sec, sec*10)))
		}
		require.NoError(t, s.Prune(ctx, time.Unix(3, 0)))
		ds, err := s.Replay(ctx)
		require.NoError(t, err)
		assert.Equal(t, []kafka.BatchDescriptor{batch(3, 30), batch(4, 40)}, ds)

		require.NoError(t, s.Prune(ctx, time.Unix(100, 0)))
		ds, err = s.Replay(ctx)
		require.NoError(t, err)
		assert.Empty(t, ds)
	})
}

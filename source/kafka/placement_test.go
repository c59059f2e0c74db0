package kafka

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferredHosts(t *testing.T) {
	ranges := []OffsetRange{{Partition: tpA0}, {Partition: tpB0}}

	t.Run("consistent", func(t *testing.T) {
		s := newTestStream(t, testConfig(), newFakeClient())
		hosts, err := s.PreferredHosts(ranges)
		require.NoError(t, err)
		assert.Empty(t, hosts)
	})

	t.Run("fixed", func(t *testing.T) {
		cfg := testConfig()
		cfg.LocationStrategy = PreferFixed
		cfg.PreferredHosts = map[string]string{"A/0": "exec-1"}
		s := newTestStream(t, cfg, newFakeClient())
		hosts, err := s.PreferredHosts(ranges)
		require.NoError(t, err)
		assert.Equal(t, map[PartitionKey]string{tpA0: "exec-1"}, hosts)
	})

	t.Run("brokers", func(t *testing.T) {
		cfg := testConfig()
		cfg.LocationStrategy = PreferBrokers
		fc := newFakeClient()
		fc.leaders = map[PartitionKey]string{tpA0: "broker-1:9092", tpB0: "broker-2"}
		s := newTestStream(t, cfg, fc)
		hosts, err := s.PreferredHosts(ranges)
		require.NoError(t, err)
		assert.Equal(t, map[PartitionKey]string{tpA0: "broker-1", tpB0: "broker-2"}, hosts)

		_, err = s.PreferredHosts([]OffsetRange{{Partition: tpA1}})
		assert.ErrorIs(t, err, ErrClientIO)
	})
}

package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	src "microbatch/source/kafka"
)

func TestDriver_PublishesBatchMetadata(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	p := mocks.NewSyncProducer(t, cfg)

	var got batchMeta
	p.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		return json.Unmarshal(val, &got)
	})

	d := New(p, "batches")
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, d.Push(src.BatchDescriptor{
		Time: ts,
		Ranges: []src.OffsetRange{
			{Partition: src.PartitionKey{Topic: "events", Partition: 0}, From: 0, Until: 7},
			{Partition: src.PartitionKey{Topic: "events", Partition: 1}, From: 3, Until: 3},
		},
	}))
	require.NoError(t, d.Close())

	assert.Equal(t, ts, got.BatchTime)
	assert.Equal(t, int64(7), got.Records)
	assert.Equal(t, []rangeMeta{
		{Topic: "events", Partition: 0, From: 0, Until: 7},
		{Topic: "events", Partition: 1, From: 3, Until: 3},
	}, got.Ranges)
}

func TestDriver_PublishFailure(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	p := mocks.NewSyncProducer(t, cfg)
	p.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	d := New(p, "batches")
	err := d.Push(src.BatchDescriptor{Time: time.Unix(1, 0)})
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
	require.NoError(t, d.Close())
	require.NoError(t, d.Close())
}

func TestDriver_ConfigureValidates(t *testing.T) {
	d := &driver{}
	assert.Error(t, d.Configure("nope"))
	assert.Error(t, d.Configure(Config{Topic: "t"}))
}

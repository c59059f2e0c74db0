package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"microbatch/source/kafka"
)

func TestCodec(t *testing.T) {
	d := kafka.BatchDescriptor{
		Time: time.Unix(1_700_000_000, 123456789),
		Ranges: []kafka.OffsetRange{
			{Partition: kafka.PartitionKey{Topic: "events", Partition: 0}, From: 0, Until: 1 << 40},
			{Partition: kafka.PartitionKey{Topic: "audit", Partition: 12}, From: 7, Until: 7},
		},
	}
	got, err := Unmarshal(Marshal(d))
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestCodec_SkipsUnknownFields(t *testing.T) {
	b := Marshal(kafka.BatchDescriptor{Time: time.Unix(5, 0)})
	b = protowire.AppendTag(b, 9, protowire.BytesType)
	b = protowire.AppendString(b, "future")

	got, err := Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, time.Unix(5, 0), got.Time)
	assert.Empty(t, got.Ranges)
}

func TestCodec_Malformed(t *testing.T) {
	_, err := Unmarshal([]byte{0x08})
	assert.ErrorIs(t, err, errMalformed)

	bad := Marshal(kafka.BatchDescriptor{
		Time:   time.Unix(5, 0),
		Ranges: []kafka.OffsetRange{{Partition: kafka.PartitionKey{Topic: "t"}, From: 9, Until: 2}},
	})
	_, err = Unmarshal(bad)
	assert.ErrorIs(t, err, errMalformed)
}

package kafka

import (
	"time"
)

// CommitCallback is notified once an asynchronous commit completes.
type CommitCallback func(Offsets, error)

// Client is the log client the consumption core talks to. It only discovers
// and commits offsets; record payloads are read elsewhere. Implementations
// need not be safe for concurrent use: DirectStream serializes every call.
type Client interface {
	Configure(Config) error

	Assignment() ([]PartitionKey, error)
	Position(PartitionKey) (int64, error)
	SeekToEnd([]PartitionKey) error
	Seek(PartitionKey, int64) error
	Pause([]PartitionKey) error
	Paused() []PartitionKey
	Poll(timeout time.Duration) ([]Record, error)
	CommitAsync(Offsets, CommitCallback)
	LeaderHost(PartitionKey) (string, error)

	Close() error
}

// Estimator yields the latest backpressure rate in messages per second.
// Zero or negative means no estimate yet.
type Estimator interface {
	LatestRate() float64
}

package kafka

import (
	"errors"
	"fmt"
)

var (
	// ErrClientIO wraps every failure reported by the log client.
	ErrClientIO = errors.New("kafka: client i/o")

	ErrAlreadyInitialized = errors.New("kafka: offset ledger already initialized")

	// ErrNoSession is returned by the group driver while no consumer group
	// session is live (before the first join or between rebalances).
	ErrNoSession = errors.New("kafka: no active consumer group session")
)

func clientIO(op string, err error) error {
	if err == nil || errors.Is(err, ErrClientIO) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrClientIO, op, err)
}

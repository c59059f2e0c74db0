// Package kafka is the offset planning core of a micro-batch stream: an
// offset ledger, a lag-proportional rate limiter, a batch planner and a
// commit coordinator composed by DirectStream over a pluggable Client.
//
// Both sarama drivers keep a single client for the life of the stream, so
// consumer_cache_enabled is accepted for compatibility and has no further
// effect. location_strategy only feeds DirectStream.PreferredHosts, which
// the engine logs per batch; placing work on hosts is left to the caller.
package kafka

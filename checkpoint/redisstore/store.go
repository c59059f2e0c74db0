// Package redisstore stores checkpoints in redis: a sorted set indexes batch
// times and a hash holds the encoded descriptors.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"microbatch/checkpoint"
	"microbatch/source/kafka"
)

func init() {
	checkpoint.Register("redis", func(o checkpoint.Options) (checkpoint.Store, error) {
		if o.RedisAddr == "" {
			return nil, fmt.Errorf("redis checkpoint: addr required")
		}
		cl := redis.NewClient(&redis.Options{Addr: o.RedisAddr, DB: o.RedisDB})
		return New(cl, o.KeyPrefix), nil
	})
}

type Store struct {
	rdb   redis.UniversalClient
	index string
	data  string
}

func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "microbatch:"
	}
	return &Store{rdb: rdb, index: prefix + "checkpoints:index", data: prefix + "checkpoints:data"}
}

func member(t time.Time) string { return strconv.FormatInt(t.UnixNano(), 10) }

func (s *Store) Record(ctx context.Context, d kafka.BatchDescriptor) error {
	m := member(d.Time)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, s.data, m, checkpoint.Marshal(d))
		p.ZAdd(ctx, s.index, redis.Z{Score: float64(d.Time.UnixMilli()), Member: m})
		return nil
	})
	return err
}

func (s *Store) Replay(ctx context.Context) ([]kafka.BatchDescriptor, error) {
	members, err := s.rdb.ZRange(ctx, s.index, 0, -1).Result()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	vals, err := s.rdb.HMGet(ctx, s.data, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]kafka.BatchDescriptor, 0, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("redis checkpoint %s: missing payload", members[i])
		}
		d, err := checkpoint.Unmarshal([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("redis checkpoint %s: %w", members[i], err)
		}
		out = append(out, d)
	}
	// scores only have millisecond resolution
	checkpoint.SortByTime(out)
	return out, nil
}

func (s *Store) Prune(ctx context.Context, before time.Time) error {
	cands, err := s.rdb.ZRangeByScore(ctx, s.index, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return err
	}
	cut := before.UnixNano()
	var stale []string
	for _, m := range cands {
		ns, err := strconv.ParseInt(m, 10, 64)
		if err == nil && ns < cut {
			stale = append(stale, m)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	members := make([]any, len(stale))
	for i, m := range stale {
		members[i] = m
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, s.index, members...)
		p.HDel(ctx, s.data, stale...)
		return nil
	})
	return err
}

func (s *Store) Close() error { return s.rdb.Close() }

// Package boltstore stores checkpoints in a single bbolt file, one key per batch
// time. Keys are big-endian so a cursor walks them in time order.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"microbatch/checkpoint"
	"microbatch/source/kafka"
)

var bucket = []byte("checkpoints")

func init() {
	checkpoint.Register("bolt", func(o checkpoint.Options) (checkpoint.Store, error) { return Open(o.Path) })
}

type Store struct {
	db *bbolt.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt checkpoint: path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt checkpoint: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func key(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

func (s *Store) Record(_ context.Context, d kafka.BatchDescriptor) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Put(key(d.Time), checkpoint.Marshal(d))
	})
}

func (s *Store) Replay(context.Context) ([]kafka.BatchDescriptor, error) {
	var out []kafka.BatchDescriptor
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			d, err := checkpoint.Unmarshal(v)
			if err != nil {
				return fmt.Errorf("bolt checkpoint %x: %w", k, err)
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

func (s *Store) Prune(_ context.Context, before time.Time) error {
	cut := key(before)
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucket)
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && bytes.Compare(k, cut) < 0; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) Close() error { return s.db.Close() }

/*
Package kv is the embedded ordered key-value engine adapter.

It wraps a single bbolt database file and exposes a narrow Engine interface:
point Get/Put/Delete, ordered PrefixScan, and DropPrefix for bulk removal of
a collection's key-space. Every collection gets its own top-level bucket, so
collections are isolated from one another at the bucket level and nothing
needs to be done to keep their key-spaces from colliding.

bbolt gives the engine its crash-safety for free: every write is wrapped in
a single bbolt transaction, which is fsync'd to a write-ahead log-structured
B+tree file before the call returns, so a process crash mid-write never
leaves a collection partially updated.
*/
package kv

import (
	"bytes"
	"context"
	"fmt"

	"github.com/quipubase/quipubase-go/internal/apperr"
	bolt "go.etcd.io/bbolt"
)

// Entry is a single key/value pair returned by a prefix scan.
type Entry struct {
	Key   []byte
	Value []byte
}

// Engine is the ordered key-value store contract used by the rest of the
// engine. Keys are scoped to a bucket (one per collection); callers never
// see bbolt types directly.
type Engine interface {
	// Put writes value at key within bucket, creating the bucket if absent.
	Put(ctx context.Context, bucket string, key, value []byte) error

	// Get reads the value at key within bucket. Returns apperr.NotFound if
	// the bucket or key does not exist.
	Get(ctx context.Context, bucket string, key []byte) ([]byte, error)

	// Delete removes key within bucket. It is not an error to delete a
	// missing key.
	Delete(ctx context.Context, bucket string, key []byte) error

	// PrefixScan returns all entries in bucket whose key starts with prefix,
	// in ascending key order. A nil prefix scans the whole bucket.
	PrefixScan(ctx context.Context, bucket string, prefix []byte) ([]Entry, error)

	// DropPrefix deletes every key in bucket starting with prefix. Passing a
	// nil prefix drops the entire bucket.
	DropPrefix(ctx context.Context, bucket string, prefix []byte) error

	// Close flushes and releases the underlying database file.
	Close() error
}

// BoltEngine is the bbolt-backed Engine implementation.
type BoltEngine struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt database file at path.
func Open(path string) (*BoltEngine, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, apperr.Storage(err, "kv: failed to open database at %s", path)
	}
	return &BoltEngine{db: db}, nil
}

func (e *BoltEngine) Put(_ context.Context, bucket string, key, value []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return b.Put(key, value)
	})
	if err != nil {
		return apperr.Storage(err, "kv: put failed in bucket %s", bucket)
	}
	return nil
}

func (e *BoltEngine) Get(_ context.Context, bucket string, key []byte) ([]byte, error) {
	var value []byte
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		v := b.Get(key)
		if v != nil {
			value = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage(err, "kv: get failed in bucket %s", bucket)
	}
	if value == nil {
		return nil, apperr.NotFound("kv: key %q not found in bucket %s", key, bucket)
	}
	return value, nil
}

func (e *BoltEngine) Delete(_ context.Context, bucket string, key []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		return b.Delete(key)
	})
	if err != nil {
		return apperr.Storage(err, "kv: delete failed in bucket %s", bucket)
	}
	return nil
}

func (e *BoltEngine) PrefixScan(_ context.Context, bucket string, prefix []byte) ([]Entry, error) {
	var entries []Entry
	err := e.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := seekStart(c, prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entries = append(entries, Entry{
				Key:   append([]byte(nil), k...),
				Value: append([]byte(nil), v...),
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Storage(err, "kv: prefix scan failed in bucket %s", bucket)
	}
	return entries, nil
}

func seekStart(c *bolt.Cursor, prefix []byte) ([]byte, []byte) {
	if len(prefix) == 0 {
		return c.First()
	}
	return c.Seek(prefix)
}

func (e *BoltEngine) DropPrefix(_ context.Context, bucket string, prefix []byte) error {
	err := e.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		if len(prefix) == 0 {
			return tx.DeleteBucket([]byte(bucket))
		}
		c := b.Cursor()
		var keys [][]byte
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return apperr.Storage(err, "kv: drop prefix failed in bucket %s", bucket)
	}
	return nil
}

func (e *BoltEngine) Close() error {
	if err := e.db.Close(); err != nil {
		return fmt.Errorf("kv: close failed: %w", err)
	}
	return nil
}

// Package bbolt is the reference durable backend: a single embedded,
// crash-safe, WAL-journaled key-value file (spec section 4.4/6: "local
// embedded key-value database, WAL journal, crash-safe, concurrent
// readers with a single writer") with one bucket per codec tag. Grounded
// on db/bolt/bolt.go's Open/bucket-per-kind wrapper shape.
package bbolt

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/voxlogica-project/voxlogica-core/plan"
)

// metaBucket records, for every NodeId, which codec-tag bucket holds its
// payload, so Get doesn't need to scan every bucket.
const metaBucket = "_node_codec_index"

// Backend implements store.Backend over a single bbolt file.
type Backend struct {
	db *bolt.DB
}

// Open opens (creating if absent) a bbolt file at path.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("bbolt: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(metaBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bbolt: create meta bucket: %w", err)
	}
	return &Backend{db: db}, nil
}

// Put implements store.Backend.
func (b *Backend) Put(_ context.Context, id plan.NodeId, codecTag string, data []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(codecTag))
		if err != nil {
			return fmt.Errorf("bbolt: create bucket %s: %w", codecTag, err)
		}
		if err := bucket.Put([]byte(id), data); err != nil {
			return err
		}
		meta := tx.Bucket([]byte(metaBucket))
		return meta.Put([]byte(id), []byte(codecTag))
	})
}

// Get implements store.Backend.
func (b *Backend) Get(_ context.Context, id plan.NodeId) (string, []byte, bool, error) {
	var codecTag string
	var data []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		tag := meta.Get([]byte(id))
		if tag == nil {
			return nil
		}
		codecTag = string(tag)
		bucket := tx.Bucket(tag)
		if bucket == nil {
			return nil
		}
		if v := bucket.Get([]byte(id)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return "", nil, false, err
	}
	if data == nil {
		return "", nil, false, nil
	}
	return codecTag, data, true, nil
}

// Delete implements store.Backend.
func (b *Backend) Delete(_ context.Context, id plan.NodeId) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(metaBucket))
		tag := meta.Get([]byte(id))
		if tag == nil {
			return nil
		}
		if bucket := tx.Bucket(tag); bucket != nil {
			if err := bucket.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return meta.Delete([]byte(id))
	})
}

// Close implements store.Backend.
func (b *Backend) Close() error { return b.db.Close() }

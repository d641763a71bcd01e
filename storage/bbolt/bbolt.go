// Package bbolt provides a BBolt-backed storage repository.
package bbolt

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/jmcleod/credshield/storage"
	"go.etcd.io/bbolt"
)

// Store implements storage.Repository backed by a BBolt database.
type Store struct {
	db *bbolt.DB
}

var _ storage.Repository = (*Store)(nil)

// NewRepository returns a Repository backed by the given BBolt database.
func NewRepository(db *bbolt.DB) *Store {
	return &Store{db: db}
}

// NewRepositoryFromFile opens a BBolt database at the given path and returns a new Repository.
func NewRepositoryFromFile(path string, options *bbolt.Options) (*Store, error) {
	db, err := bbolt.Open(path, 0600, options)
	if err != nil {
		return nil, fmt.Errorf("opening bbolt db: %w", err)
	}
	return NewRepository(db), nil
}

// Close closes the underlying BBolt database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn inside a read-only bbolt transaction.
func (s *Store) View(bucket string, fn func(tx storage.ReadTx) error) error {
	if fn == nil {
		return errors.New("nil view function")
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{name: bucket, bucket: tx.Bucket([]byte(bucket))})
	})
}

// Batch runs fn inside a read-write bbolt transaction, creating the bucket
// on first use. An error from fn rolls the transaction back.
func (s *Store) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	if fn == nil {
		return errors.New("nil batch function")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return fn(&boltTx{name: bucket, bucket: b})
	})
}

// boltTx wraps a bucket for the life of one transaction. bucket is nil when
// a read-only transaction finds no such bucket; bbolt itself rejects writes
// through a read-only transaction.
type boltTx struct {
	name   string
	bucket *bbolt.Bucket
}

func (tx *boltTx) Get(key string) ([]byte, error) {
	if tx.bucket == nil {
		return nil, fmt.Errorf("%s: %w", tx.name, storage.ErrNotFound)
	}
	data := tx.bucket.Get([]byte(key))
	if data == nil {
		return nil, fmt.Errorf("%s/%s: %w", tx.name, key, storage.ErrNotFound)
	}
	// data is only valid for the life of the transaction.
	return bytes.Clone(data), nil
}

func (tx *boltTx) Keys() ([]string, error) {
	if tx.bucket == nil {
		return nil, nil
	}
	var keys []string
	err := tx.bucket.ForEach(func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	})
	return keys, err
}

func (tx *boltTx) Put(key string, value []byte) error {
	if tx.bucket == nil {
		return fmt.Errorf("%s: %w", tx.name, bbolt.ErrTxNotWritable)
	}
	return tx.bucket.Put([]byte(key), value)
}

func (tx *boltTx) Delete(key string) error {
	if tx.bucket == nil || tx.bucket.Get([]byte(key)) == nil {
		return fmt.Errorf("%s/%s: %w", tx.name, key, storage.ErrNotFound)
	}
	return tx.bucket.Delete([]byte(key))
}

// Package storage provides the key/value persistence layer used for
// client-side session state.
package storage

import "errors"

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("record not found")
)

// ReadTx reads from one bucket within a consistent snapshot.
type ReadTx interface {
	Get(key string) ([]byte, error)
	// Keys returns the bucket's keys in ascending order.
	Keys() ([]string, error)
}

// BatchTx reads and writes within an atomic transaction scoped to one bucket.
type BatchTx interface {
	ReadTx
	Put(key string, value []byte) error
	Delete(key string) error
}

// Repository defines the interface for bucketed key/value storage.
// Implementations must be safe for concurrent use.
type Repository interface {
	// View runs fn against a snapshot no concurrent Batch can change.
	// A bucket that was never written reads as empty.
	View(bucket string, fn func(tx ReadTx) error) error
	// Batch runs fn atomically: either every write in fn is applied or none.
	Batch(bucket string, fn func(tx BatchTx) error) error
}

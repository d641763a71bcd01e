// Package memory provides a thread-safe in-memory implementation of storage.Repository.
package memory

import (
	"bytes"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/jmcleod/credshield/storage"
)

// Repository is a thread-safe in-memory implementation of storage.Repository.
// Suitable for testing and for sessions that must not outlive the process.
type Repository struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

var _ storage.Repository = (*Repository)(nil)

// NewRepository creates a new empty in-memory Repository.
func NewRepository() *Repository {
	return &Repository{data: make(map[string]map[string][]byte)}
}

func clone(b []byte) []byte {
	return bytes.Clone(b)
}

// View runs fn under the read lock, so no Batch interleaves with it.
func (r *Repository) View(bucket string, fn func(tx storage.ReadTx) error) error {
	if fn == nil {
		return errors.New("nil view function")
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return fn(&memoryTx{repo: r, bucket: bucket})
}

// Batch executes fn within a batch transaction. On error, all writes are rolled back.
func (r *Repository) Batch(bucket string, fn func(tx storage.BatchTx) error) error {
	if fn == nil {
		return errors.New("nil batch function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := r.snapshotBucket(bucket)

	tx := &memoryTx{repo: r, bucket: bucket, writable: true}
	if err := fn(tx); err != nil {
		r.restoreBucket(bucket, snapshot)
		return err
	}
	return nil
}

func (r *Repository) snapshotBucket(bucket string) map[string][]byte {
	original, ok := r.data[bucket]
	if !ok {
		return nil
	}
	cp := make(map[string][]byte, len(original))
	for k, v := range original {
		cp[k] = clone(v)
	}
	return cp
}

func (r *Repository) restoreBucket(bucket string, snapshot map[string][]byte) {
	if snapshot == nil {
		delete(r.data, bucket)
	} else {
		r.data[bucket] = snapshot
	}
}

// memoryTx is only used while the caller holds r.mu.
type memoryTx struct {
	repo     *Repository
	bucket   string
	writable bool
}

func (tx *memoryTx) Get(key string) ([]byte, error) {
	v, ok := tx.repo.data[tx.bucket][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(v), nil
}

func (tx *memoryTx) Keys() ([]string, error) {
	return slices.Sorted(maps.Keys(tx.repo.data[tx.bucket])), nil
}

func (tx *memoryTx) Put(key string, value []byte) error {
	if !tx.writable {
		return errors.New("put in read-only transaction")
	}
	b, ok := tx.repo.data[tx.bucket]
	if !ok {
		b = make(map[string][]byte)
		tx.repo.data[tx.bucket] = b
	}
	b[key] = clone(value)
	return nil
}

func (tx *memoryTx) Delete(key string) error {
	if !tx.writable {
		return errors.New("delete in read-only transaction")
	}
	b := tx.repo.data[tx.bucket]
	if _, ok := b[key]; !ok {
		return storage.ErrNotFound
	}
	delete(b, key)
	return nil
}

package bbolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/credshield/storage"
	"github.com/jmcleod/credshield/storage/storagetest"
)

func newTestDB(t *testing.T) *bbolt.DB {
	t.Helper()
	db, err := bbolt.Open(filepath.Join(t.TempDir(), "session-test.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBBoltStorage(t *testing.T) {
	storagetest.Run(t, NewRepository(newTestDB(t)))
}

func TestBBoltStorage_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	require.NoError(t, s.Batch("session", func(tx storage.BatchTx) error {
		return tx.Put("access_token", []byte("tok1"))
	}))
	require.NoError(t, s.Close())

	s, err = NewRepositoryFromFile(path, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.View("session", func(tx storage.ReadTx) error {
		got, err := tx.Get("access_token")
		require.NoError(t, err)
		assert.Equal(t, "tok1", string(got))
		return nil
	}))
}

func TestBBoltStorage_NilBatch(t *testing.T) {
	s := NewRepository(newTestDB(t))
	assert.Error(t, s.Batch("b", nil))
	assert.Error(t, s.View("b", nil))
}

func TestBBoltStorage_ViewMissingBucket(t *testing.T) {
	s := NewRepository(newTestDB(t))
	err := s.View("never-created", func(tx storage.ReadTx) error {
		_, err := tx.Get("k")
		assert.ErrorIs(t, err, storage.ErrNotFound)
		assert.ErrorIs(t, tx.(storage.BatchTx).Put("k", []byte("v")), bbolt.ErrTxNotWritable)
		return nil
	})
	require.NoError(t, err)
}

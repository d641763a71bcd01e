// Package storagetest holds the conformance suite shared by every
// storage.Repository implementation.
package storagetest

import (
	"bytes"
	"errors"
	"slices"
	"strconv"
	"sync"
	"testing"

	"github.com/jmcleod/credshield/storage"
)

func put(repo storage.Repository, bucket, key string, value []byte) error {
	return repo.Batch(bucket, func(tx storage.BatchTx) error {
		return tx.Put(key, value)
	})
}

func get(repo storage.Repository, bucket, key string) ([]byte, error) {
	var v []byte
	err := repo.View(bucket, func(tx storage.ReadTx) error {
		var err error
		v, err = tx.Get(key)
		return err
	})
	return v, err
}

func keys(repo storage.Repository, bucket string) ([]string, error) {
	var ks []string
	err := repo.View(bucket, func(tx storage.ReadTx) error {
		var err error
		ks, err = tx.Keys()
		return err
	})
	return ks, err
}

// Run exercises repo against the storage.Repository contract.
func Run(t *testing.T, repo storage.Repository) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		if err := put(repo, "b1", "k1", []byte("v1")); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		got, err := get(repo, "b1", "k1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, []byte("v1")) {
			t.Errorf("got %q, want %q", got, "v1")
		}

		got[0] = 'X'
		again, _ := get(repo, "b1", "k1")
		if again[0] == 'X' {
			t.Error("Get must return a copy")
		}
	})

	t.Run("GetNotFound", func(t *testing.T) {
		if _, err := get(repo, "missing-bucket", "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing bucket, got %v", err)
		}
		if _, err := get(repo, "b1", "missing"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for missing key, got %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = put(repo, "b1", "ow", []byte("old"))
		_ = put(repo, "b1", "ow", []byte("new"))
		got, err := get(repo, "b1", "ow")
		if err != nil || string(got) != "new" {
			t.Errorf("got %q (%v), want %q", got, err, "new")
		}
	})

	t.Run("Keys", func(t *testing.T) {
		_ = put(repo, "list", "b", []byte("2"))
		_ = put(repo, "list", "a", []byte("1"))
		ks, err := keys(repo, "list")
		if err != nil {
			t.Fatalf("Keys failed: %v", err)
		}
		if !slices.Equal(ks, []string{"a", "b"}) {
			t.Errorf("Keys returned %v", ks)
		}
		empty, err := keys(repo, "never-created")
		if err != nil || len(empty) != 0 {
			t.Errorf("Keys on missing bucket returned %v, %v", empty, err)
		}
	})

	t.Run("ViewIsReadOnly", func(t *testing.T) {
		err := repo.View("b1", func(tx storage.ReadTx) error {
			btx, ok := tx.(storage.BatchTx)
			if !ok {
				return nil
			}
			return btx.Put("sneaky", []byte("x"))
		})
		if err == nil {
			if _, gerr := get(repo, "b1", "sneaky"); gerr == nil {
				t.Error("write through a view must not persist")
			}
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		err := repo.Batch("batch", func(tx storage.BatchTx) error {
			if err := tx.Put("x", []byte("1")); err != nil {
				return err
			}
			return tx.Put("y", []byte("2"))
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
		x, _ := get(repo, "batch", "x")
		y, _ := get(repo, "batch", "y")
		if string(x) != "1" || string(y) != "2" {
			t.Errorf("batch writes missing: x=%q y=%q", x, y)
		}
	})

	t.Run("BatchReadsOwnWrites", func(t *testing.T) {
		err := repo.Batch("own", func(tx storage.BatchTx) error {
			if err := tx.Put("k", []byte("v")); err != nil {
				return err
			}
			got, err := tx.Get("k")
			if err != nil {
				return err
			}
			if string(got) != "v" {
				t.Errorf("in-batch Get returned %q", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("Batch failed: %v", err)
		}
	})

	t.Run("BatchRollback", func(t *testing.T) {
		_ = put(repo, "rb", "keep", []byte("orig"))
		boom := errors.New("abort")
		err := repo.Batch("rb", func(tx storage.BatchTx) error {
			if err := tx.Put("keep", []byte("changed")); err != nil {
				return err
			}
			if err := tx.Put("new", []byte("n")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected batch error, got %v", err)
		}
		keep, _ := get(repo, "rb", "keep")
		if string(keep) != "orig" {
			t.Errorf("rollback failed, keep=%q", keep)
		}
		if _, err := get(repo, "rb", "new"); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("rolled back key should not exist, got %v", err)
		}
	})

	t.Run("BatchDelete", func(t *testing.T) {
		_ = put(repo, "bd", "a", []byte("1"))
		_ = put(repo, "bd", "b", []byte("2"))
		err := repo.Batch("bd", func(tx storage.BatchTx) error {
			if err := tx.Delete("a"); err != nil {
				return err
			}
			return tx.Delete("b")
		})
		if err != nil {
			t.Fatalf("Batch delete failed: %v", err)
		}
		ks, _ := keys(repo, "bd")
		if len(ks) != 0 {
			t.Errorf("expected empty bucket, got %v", ks)
		}
		if err := repo.Batch("bd", func(tx storage.BatchTx) error { return tx.Delete("a") }); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound deleting missing key in batch, got %v", err)
		}
	})

	t.Run("ViewSeesWholeBatches", func(t *testing.T) {
		const rounds = 50
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range rounds {
				v := []byte(strconv.Itoa(i))
				err := repo.Batch("pair", func(tx storage.BatchTx) error {
					if err := tx.Put("x", v); err != nil {
						return err
					}
					return tx.Put("y", v)
				})
				if err != nil {
					t.Errorf("Batch failed: %v", err)
					return
				}
			}
		}()
		for range rounds {
			err := repo.View("pair", func(tx storage.ReadTx) error {
				x, xerr := tx.Get("x")
				y, yerr := tx.Get("y")
				if errors.Is(xerr, storage.ErrNotFound) != errors.Is(yerr, storage.ErrNotFound) {
					t.Errorf("view saw half a batch: x=%v y=%v", xerr, yerr)
				}
				if !bytes.Equal(x, y) {
					t.Errorf("view saw torn pair x=%q y=%q", x, y)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("View failed: %v", err)
			}
		}
		wg.Wait()
	})
}

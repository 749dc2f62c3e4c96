package reconcile

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

var bucketStaged = []byte("staged")

// staging is the throwaway collection a rescan writes into before the
// swap commit. Keeping it out of the main database means a scan that
// dies halfway leaves the index untouched, and the swap itself is one
// store transaction.
type staging struct {
	db   *bolt.DB
	path string
}

func openStaging(dataDir, volumeID string) (*staging, error) {
	dir := filepath.Join(dataDir, "staging")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	path := filepath.Join(dir, volumeID+".db")
	// A leftover file from a crashed scan is stale; start clean
	os.Remove(path)

	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open staging db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStaged)
		return err
	})
	if err != nil {
		db.Close()
		os.Remove(path)
		return nil, err
	}
	return &staging{db: db, path: path}, nil
}

// put stages one entry keyed by node_ref
func (s *staging) put(e *types.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStaged).Put(refKey(e.NodeRef), data)
	})
}

// putBatch stages entries in one bolt transaction; the walk emits far
// too fast for a transaction per entry
func (s *staging) putBatch(entries []*types.Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStaged)
		for _, e := range entries {
			data, err := json.Marshal(e)
			if err != nil {
				return err
			}
			if err := b.Put(refKey(e.NodeRef), data); err != nil {
				return err
			}
		}
		return nil
	})
}

// forEach streams the staged set in node_ref order
func (s *staging) forEach(fn func(*types.Entry) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStaged).ForEach(func(k, v []byte) error {
			var e types.Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			return fn(&e)
		})
	})
}

func (s *staging) count() (int64, error) {
	var n int64
	err := s.db.View(func(tx *bolt.Tx) error {
		n = int64(tx.Bucket(bucketStaged).Stats().KeyN)
		return nil
	})
	return n, err
}

// discard closes and deletes the staging file
func (s *staging) discard() {
	s.db.Close()
	os.Remove(s.path)
}

func refKey(ref int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(ref))
	return key[:]
}

// Package store implements the persistent key-value layer used by the
// deployment state machine: the StateData record (with write-count loop
// detection) and the Provides database recording the currently installed
// artifact.
package store

import (
	"errors"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
)

var (
	bucketState    = []byte("state")
	bucketProvides = []byte("provides")
)

// stateDataCountCap is the threshold beyond which further writes to the
// state-data key within a single deployment run are refused with
// errkind.ErrStateDataStoreCountExceeded, the loop-breaker described in
// SPEC_FULL.md §3.
const stateDataCountCap = 30

const (
	keyStateData    = "state-data"
	keyWriteCounter = "state-data-write-count"
)

// Txn is the set of operations available inside a write transaction.
type Txn interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Remove(key string) error
}

// KVStore is a key-value store of bytes to bytes, with atomic multi-key
// transactions.
type KVStore interface {
	Read(key string) ([]byte, error)
	Write(key string, value []byte) error
	Remove(key string) error
	WithTransaction(fn func(txn Txn) error) error
	Close() error
}

// BoltStore is a bbolt-backed KVStore. It keeps the StateData blob and the
// Provides record in separate buckets so that a single write_transaction can
// update both atomically, which is what the SaveProvides/ClearArtifactData
// phases of the deployment machine require.
type BoltStore struct {
	db *bolt.DB
}

// Open creates or opens the bbolt database under dataDir/store.
func Open(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "store")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketState, bucketProvides} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func bucketAndKey(key string) ([]byte, string) {
	// The state-data write counter lives in the provides bucket so that a
	// reset of the counter (ClearArtifactData) can be folded into the same
	// transaction as the provides commit.
	if key == keyWriteCounter {
		return bucketProvides, key
	}
	return bucketState, key
}

// Read returns the bytes stored under key, or errkind.ErrKeyNotFound.
func (s *BoltStore) Read(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket, k := bucketAndKey(key)
		b := tx.Bucket(bucket)
		v := b.Get([]byte(k))
		if v == nil {
			return errkind.ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Write stores value under key, counting writes to keyStateData toward the
// loop-detection cap.
func (s *BoltStore) Write(key string, value []byte) error {
	return s.WithTransaction(func(txn Txn) error {
		return txn.Write(key, value)
	})
}

// Remove deletes key; it is idempotent (removing an absent key is not an
// error).
func (s *BoltStore) Remove(key string) error {
	return s.WithTransaction(func(txn Txn) error {
		return txn.Remove(key)
	})
}

// WithTransaction runs fn against a bbolt read-write transaction: either all
// of fn's writes become visible, or none do.
func (s *BoltStore) WithTransaction(fn func(txn Txn) error) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		txn := &boltTxn{tx: tx}
		return fn(txn)
	})
}

type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) Read(key string) ([]byte, error) {
	bucket, k := bucketAndKey(key)
	b := t.tx.Bucket(bucket)
	v := b.Get([]byte(k))
	if v == nil {
		return nil, errkind.ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (t *boltTxn) Write(key string, value []byte) error {
	if key == keyStateData {
		if err := t.bumpWriteCounter(); err != nil {
			return err
		}
	}
	bucket, k := bucketAndKey(key)
	b := t.tx.Bucket(bucket)
	return b.Put([]byte(k), value)
}

func (t *boltTxn) Remove(key string) error {
	bucket, k := bucketAndKey(key)
	b := t.tx.Bucket(bucket)
	return b.Delete([]byte(k))
}

func (t *boltTxn) bumpWriteCounter() error {
	b := t.tx.Bucket(bucketProvides)
	raw := b.Get([]byte(keyWriteCounter))
	count := 0
	if raw != nil {
		count = decodeCounter(raw)
	}
	count++
	if count > stateDataCountCap {
		return errkind.ErrStateDataStoreCountExceeded
	}
	return b.Put([]byte(keyWriteCounter), encodeCounter(count))
}

// ResetWriteCounter clears the state-data write counter; called from
// ClearArtifactData at the end of a deployment run.
func ResetWriteCounter(s KVStore) error {
	return s.WithTransaction(func(txn Txn) error {
		return txn.Remove(keyWriteCounter)
	})
}

func encodeCounter(n int) []byte {
	return []byte(fmt.Sprintf("%d", n))
}

func decodeCounter(b []byte) int {
	var n int
	_, err := fmt.Sscanf(string(b), "%d", &n)
	if err != nil {
		return 0
	}
	return n
}

// IsCountExceeded reports whether err is the loop-detector's terminal error.
func IsCountExceeded(err error) bool {
	return errors.Is(err, errkind.ErrStateDataStoreCountExceeded)
}

// ReadStateData returns the raw persisted StateData blob, or
// errkind.ErrKeyNotFound if no deployment is in flight.
func ReadStateData(s KVStore) ([]byte, error) {
	return s.Read(keyStateData)
}

// WriteStateData persists the StateData blob for the save-state protocol;
// it counts toward the loop-detection cap (see bumpWriteCounter).
func WriteStateData(s KVStore, data []byte) error {
	return s.Write(keyStateData, data)
}

// RemoveStateData clears the StateData record, e.g. at ClearArtifactData.
func RemoveStateData(s KVStore) error {
	return s.Remove(keyStateData)
}

// IsNotFound reports whether err means "no such key" for callers outside
// this package (e.g. the deployment machine's resume logic).
func IsNotFound(err error) bool {
	return errors.Is(err, errkind.ErrKeyNotFound)
}

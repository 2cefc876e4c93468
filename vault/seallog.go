package vault

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/lntypes"
	"go.etcd.io/bbolt"
)

var (
	// sealedBucketKey is the bucket holding the plaintext digest of every
	// sealed swap hash.
	sealedBucketKey = []byte("sealed-secrets")
)

// SealLog records the plaintext digest sealed under every swap hash.
type SealLog interface {
	// Record stores the digest for the hash. It fails with ErrKeyReuse if
	// a different digest was recorded for the hash before.
	Record(hash lntypes.Hash, digest [32]byte) error
}

// MemSealLog is an in-memory seal log.
type MemSealLog struct {
	mu      sync.Mutex
	digests map[lntypes.Hash][32]byte
}

// NewMemSealLog returns an empty in-memory seal log.
func NewMemSealLog() *MemSealLog {
	return &MemSealLog{
		digests: make(map[lntypes.Hash][32]byte),
	}
}

// Record stores the digest for the hash.
func (m *MemSealLog) Record(hash lntypes.Hash, digest [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.digests[hash]
	if ok && existing != digest {
		return fmt.Errorf("%w: %v", ErrKeyReuse, hash)
	}

	m.digests[hash] = digest

	return nil
}

// BoltSealLog is a seal log persisted in a bolt database.
type BoltSealLog struct {
	db *bbolt.DB
}

// NewBoltSealLog opens or creates the seal log database at the given path.
func NewBoltSealLog(path string) (*BoltSealLog, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(sealedBucketKey)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &BoltSealLog{db: db}, nil
}

// Record stores the digest for the hash.
func (b *BoltSealLog) Record(hash lntypes.Hash, digest [32]byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(sealedBucketKey)
		if bucket == nil {
			return fmt.Errorf("bucket %s not found", sealedBucketKey)
		}

		existing := bucket.Get(hash[:])
		if existing != nil {
			if !bytes.Equal(existing, digest[:]) {
				return fmt.Errorf("%w: %v", ErrKeyReuse, hash)
			}

			return nil
		}

		return bucket.Put(hash[:], digest[:])
	})
}

// Close closes the underlying database.
func (b *BoltSealLog) Close() error {
	return b.db.Close()
}

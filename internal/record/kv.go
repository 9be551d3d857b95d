package record

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const bucketName = "coincard"

// KV is the persistence substrate: whole values addressed by string keys.
// Each Put is atomic for its key.
type KV interface {
	// Get returns the value stored under key, or nil if the key is absent
	Get(key string) ([]byte, error)

	// Put replaces the value stored under key
	Put(key string, value []byte) error

	// Close releases the underlying resources
	Close() error
}

// BoltKV implements KV on a single BoltDB bucket
type BoltKV struct {
	db *bbolt.DB
}

// NewBoltKV opens (or creates) the database file and its bucket
func NewBoltKV(path string) (*BoltKV, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bucket: %w", err)
	}

	return &BoltKV{db: db}, nil
}

// Get returns a copy of the value stored under key
func (b *BoltKV) Get(key string) ([]byte, error) {
	var value []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(bucketName)).Get([]byte(key))
		if data != nil {
			// bbolt memory is only valid inside the transaction
			value = append([]byte{}, data...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}
	return value, nil
}

// Put stores value under key
func (b *BoltKV) Put(key string, value []byte) error {
	err := b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	return nil
}

// Close closes the database
func (b *BoltKV) Close() error {
	return b.db.Close()
}

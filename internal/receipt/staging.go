package receipt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	stagingBucketName = "staging"
	stagingNamespace  = "receipt:unverified:"
)

// StagingStore defines the operations on drafts awaiting review
type StagingStore interface {
	// Put inserts or overwrites the draft stored under draft.ID
	Put(draft *Draft) error

	// Get fetches a draft; found is false when nothing is staged under id
	Get(id string) (draft *Draft, found bool, err error)

	// ListPending returns every staged draft
	ListPending() ([]*Draft, error)

	// Delete removes a draft. Deleting an absent id is a no-op.
	Delete(id string) error

	// Close closes the underlying store
	Close() error
}

// BoltStaging implements StagingStore using BoltDB
type BoltStaging struct {
	db *bbolt.DB
}

// NewBoltStaging opens (or creates) the staging database at path
func NewBoltStaging(path string) (*BoltStaging, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(stagingBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStaging{db: db}, nil
}

func stagingKey(id string) []byte {
	return []byte(stagingNamespace + id)
}

// Put stores a draft under its namespaced key
func (b *BoltStaging) Put(draft *Draft) error {
	if draft.ID == "" {
		return fmt.Errorf("draft id is required")
	}
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling draft: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stagingBucketName)).Put(stagingKey(draft.ID), data)
	})
}

// Get retrieves a draft by ID
func (b *BoltStaging) Get(id string) (*Draft, bool, error) {
	var draft *Draft
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(stagingBucketName)).Get(stagingKey(id))
		if data == nil {
			return nil
		}
		return json.Unmarshal(data, &draft)
	})
	if err != nil {
		return nil, false, fmt.Errorf("reading draft %s: %w", id, err)
	}
	return draft, draft != nil, nil
}

// ListPending returns all drafts in the staging namespace
func (b *BoltStaging) ListPending() ([]*Draft, error) {
	drafts := make([]*Draft, 0)
	prefix := []byte(stagingNamespace)
	err := b.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(stagingBucketName)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var draft Draft
			if err := json.Unmarshal(v, &draft); err != nil {
				return fmt.Errorf("unmarshaling draft %s: %w", k, err)
			}
			drafts = append(drafts, &draft)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drafts, nil
}

// Delete removes a draft from staging
func (b *BoltStaging) Delete(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(stagingBucketName)).Delete(stagingKey(id))
	})
}

// Close closes the database connection
func (b *BoltStaging) Close() error {
	return b.db.Close()
}

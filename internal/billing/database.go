package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const draftBucketName = "drafts"

// ErrNotFound is returned for unknown draft IDs
var ErrNotFound = errors.New("draft not found")

// DB defines the interface for draft persistence
type DB interface {
	// SaveDraft inserts or replaces a draft
	SaveDraft(draft *Draft) error

	// GetDraft retrieves a draft by ID
	GetDraft(id string) (*Draft, error)

	// ListDrafts returns all drafts, newest first
	ListDrafts() ([]*Draft, error)

	// DeleteDraft removes a draft
	DeleteDraft(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB opens (or creates) the database at path
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(draftBucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveDraft inserts or replaces a draft
func (b *BoltDB) SaveDraft(draft *Draft) error {
	data, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshaling draft: %w", err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(draftBucketName)).Put([]byte(draft.ID), data)
	})
}

// GetDraft retrieves a draft by ID
func (b *BoltDB) GetDraft(id string) (*Draft, error) {
	var draft Draft
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(draftBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &draft)
	})
	if err != nil {
		return nil, err
	}
	return &draft, nil
}

// ListDrafts returns all drafts, newest first
func (b *BoltDB) ListDrafts() ([]*Draft, error) {
	drafts := make([]*Draft, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(draftBucketName)).ForEach(func(k, v []byte) error {
			var draft Draft
			if err := json.Unmarshal(v, &draft); err != nil {
				return fmt.Errorf("unmarshaling draft %s: %w", k, err)
			}
			drafts = append(drafts, &draft)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(drafts, func(i, j int) bool {
		return drafts[i].CreatedAt.After(drafts[j].CreatedAt)
	})
	return drafts, nil
}

// DeleteDraft removes a draft
func (b *BoltDB) DeleteDraft(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(draftBucketName))
		if bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

package refill

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	refillBucketName = "refills"
	rejectBucketName = "rejects"
)

// DB defines the interface for the refill journal
type DB interface {
	// SaveRefill saves a refill to the journal
	SaveRefill(refill *Refill) error

	// GetRefill retrieves a refill by ID
	GetRefill(id string) (*Refill, error)

	// ListRefills returns all refills, oldest first
	ListRefills() ([]*Refill, error)

	// SaveReject saves a rejected receipt
	SaveReject(reject *Reject) error

	// GetReject retrieves a rejected receipt by ID
	GetReject(id string) (*Reject, error)

	// ListRejects returns all rejected receipts, oldest first
	ListRejects() ([]*Reject, error)

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(refillBucketName)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(rejectBucketName)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

func (b *BoltDB) put(bucketName, id string, v any) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshaling %s: %w", bucketName, err)
		}
		return tx.Bucket([]byte(bucketName)).Put([]byte(id), data)
	})
}

// SaveRefill saves a refill to the database
func (b *BoltDB) SaveRefill(refill *Refill) error {
	return b.put(refillBucketName, refill.ID, refill)
}

// GetRefill retrieves a refill by ID
func (b *BoltDB) GetRefill(id string) (*Refill, error) {
	var refill *Refill
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(refillBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("refill not found: %s", id)
		}
		return json.Unmarshal(data, &refill)
	})
	if err != nil {
		return nil, err
	}
	return refill, nil
}

// ListRefills returns all refills, oldest first
func (b *BoltDB) ListRefills() ([]*Refill, error) {
	refills := make([]*Refill, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(refillBucketName)).ForEach(func(k, v []byte) error {
			var refill Refill
			if err := json.Unmarshal(v, &refill); err != nil {
				return fmt.Errorf("unmarshaling refill: %w", err)
			}
			refills = append(refills, &refill)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(refills, func(i, j int) bool {
		return refills[i].CreatedAt.Before(refills[j].CreatedAt)
	})
	return refills, nil
}

// SaveReject saves a rejected receipt to the database
func (b *BoltDB) SaveReject(reject *Reject) error {
	return b.put(rejectBucketName, reject.ID, reject)
}

// GetReject retrieves a rejected receipt by ID
func (b *BoltDB) GetReject(id string) (*Reject, error) {
	var reject *Reject
	err := b.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(rejectBucketName)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("reject not found: %s", id)
		}
		return json.Unmarshal(data, &reject)
	})
	if err != nil {
		return nil, err
	}
	return reject, nil
}

// ListRejects returns all rejected receipts, oldest first
func (b *BoltDB) ListRejects() ([]*Reject, error) {
	rejects := make([]*Reject, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(rejectBucketName)).ForEach(func(k, v []byte) error {
			var reject Reject
			if err := json.Unmarshal(v, &reject); err != nil {
				return fmt.Errorf("unmarshaling reject: %w", err)
			}
			rejects = append(rejects, &reject)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rejects, func(i, j int) bool {
		return rejects[i].CreatedAt.Before(rejects[j].CreatedAt)
	})
	return rejects, nil
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}

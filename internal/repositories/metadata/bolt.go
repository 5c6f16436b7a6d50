package metadata

import (
	"bytes"
	"context"
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	bolt "go.etcd.io/bbolt"
)

var metadataBucket = []byte("metadata")

// BoltRepository keeps metadata in a single top-level bucket.
type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository creates the metadata bucket if needed.
func NewBoltRepository(db *bolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(metadataBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create metadata bucket: %w", common.ErrStorageIO, err)
	}
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Get(_ context.Context, key string) ([]byte, error) {
	var value []byte
	err := r.db.View(func(tx *bolt.Tx) error {
		// bolt memory is only valid inside the transaction
		if v := tx.Bucket(metadataBucket).Get([]byte(key)); v != nil {
			value = bytes.Clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get metadata[%s]: %w", common.ErrStorageIO, key, err)
	}
	return value, nil
}

func (r *BoltRepository) Set(_ context.Context, key string, value []byte) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Put([]byte(key), value)
	})
	if err != nil {
		return fmt.Errorf("%w: set metadata[%s]: %w", common.ErrStorageIO, key, err)
	}
	return nil
}

func (r *BoltRepository) Delete(_ context.Context, key string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("%w: delete metadata[%s]: %w", common.ErrStorageIO, key, err)
	}
	return nil
}

func (r *BoltRepository) List(_ context.Context) (map[string][]byte, error) {
	result := make(map[string][]byte)
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(metadataBucket).ForEach(func(k, v []byte) error {
			result[string(k)] = bytes.Clone(v)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list metadata: %w", common.ErrStorageIO, err)
	}
	return result, nil
}

func (r *BoltRepository) Clear(_ context.Context) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(metadataBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucket(metadataBucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: clear metadata: %w", common.ErrStorageIO, err)
	}
	return nil
}

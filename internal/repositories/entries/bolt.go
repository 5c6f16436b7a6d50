package entries

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Bucket layout:
//
//	containers/
//	  <container id>/
//	    canary      -> sealed canary
//	    created_at  -> unix nanos, big endian
//	    names/      <key id> -> sealed name
//	    values/     <key id> -> sealed value
var (
	containersBucket = []byte("containers")
	namesBucket      = []byte("names")
	valuesBucket     = []byte("values")
	canaryKey        = []byte("canary")
	createdAtKey     = []byte("created_at")
)

type BoltRepository struct {
	db *bolt.DB
}

// NewBoltRepository creates the top-level containers bucket if needed.
func NewBoltRepository(db *bolt.DB) (*BoltRepository, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(containersBucket)
		return err
	})
	if err != nil {
		return nil, storageErr("create containers bucket", err)
	}
	return &BoltRepository{db: db}, nil
}

func container(tx *bolt.Tx, id string) *bolt.Bucket {
	return tx.Bucket(containersBucket).Bucket([]byte(id))
}

func notFound(id string) error {
	return fmt.Errorf("%w: container %q", common.ErrNotFound, id)
}

func (r *BoltRepository) CreateContainer(_ context.Context, c models.Container) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(containersBucket).CreateBucket([]byte(c.ID))
		if errors.Is(err, bolt.ErrBucketExists) {
			return fmt.Errorf("%w: container %q already exists", common.ErrInvalidArgument, c.ID)
		}
		if err != nil {
			return err
		}
		if err := b.Put(canaryKey, c.Canary); err != nil {
			return err
		}
		ts := make([]byte, 8)
		binary.BigEndian.PutUint64(ts, uint64(c.CreatedAt.UnixNano()))
		if err := b.Put(createdAtKey, ts); err != nil {
			return err
		}
		if _, err := b.CreateBucket(namesBucket); err != nil {
			return err
		}
		_, err = b.CreateBucket(valuesBucket)
		return err
	})
	return asStorageErr("create container", err)
}

func (r *BoltRepository) GetContainer(_ context.Context, id string) (*models.Container, error) {
	var c *models.Container
	err := r.db.View(func(tx *bolt.Tx) error {
		b := container(tx, id)
		if b == nil {
			return notFound(id)
		}
		c = &models.Container{ID: id, Canary: bytes.Clone(b.Get(canaryKey))}
		if ts := b.Get(createdAtKey); len(ts) == 8 {
			c.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(ts))).UTC()
		}
		return nil
	})
	if err != nil {
		return nil, asStorageErr("get container", err)
	}
	return c, nil
}

func (r *BoltRepository) ListContainers(_ context.Context) ([]string, error) {
	ids := []string{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(containersBucket).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list containers", err)
	}
	sort.Strings(ids)
	return ids, nil
}

func (r *BoltRepository) DropContainer(_ context.Context, id string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(containersBucket).DeleteBucket([]byte(id))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return storageErr(fmt.Sprintf("drop container %q", id), err)
	}
	return nil
}

func (r *BoltRepository) Put(_ context.Context, e models.SecureEntry) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := container(tx, e.ContainerID)
		if b == nil {
			return notFound(e.ContainerID)
		}
		if err := b.Bucket(namesBucket).Put([]byte(e.KeyID), e.Name); err != nil {
			return err
		}
		return b.Bucket(valuesBucket).Put([]byte(e.KeyID), e.Value)
	})
	return asStorageErr("put entry", err)
}

func (r *BoltRepository) Get(_ context.Context, containerID, keyID string) (*models.SecureEntry, error) {
	var e *models.SecureEntry
	err := r.db.View(func(tx *bolt.Tx) error {
		b := container(tx, containerID)
		if b == nil {
			return fmt.Errorf("%w: entry", common.ErrNotFound)
		}
		v := b.Bucket(valuesBucket).Get([]byte(keyID))
		if v == nil {
			return fmt.Errorf("%w: entry", common.ErrNotFound)
		}
		e = &models.SecureEntry{
			ContainerID: containerID,
			KeyID:       keyID,
			Name:        bytes.Clone(b.Bucket(namesBucket).Get([]byte(keyID))),
			Value:       bytes.Clone(v),
		}
		return nil
	})
	if err != nil {
		return nil, asStorageErr("get entry", err)
	}
	return e, nil
}

func (r *BoltRepository) Delete(_ context.Context, containerID, keyID string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := container(tx, containerID)
		if b == nil {
			return nil
		}
		if err := b.Bucket(namesBucket).Delete([]byte(keyID)); err != nil {
			return err
		}
		return b.Bucket(valuesBucket).Delete([]byte(keyID))
	})
	if err != nil {
		return storageErr("delete entry", err)
	}
	return nil
}

func (r *BoltRepository) List(_ context.Context, containerID string) ([]models.SecureEntry, error) {
	result := []models.SecureEntry{}
	err := r.db.View(func(tx *bolt.Tx) error {
		b := container(tx, containerID)
		if b == nil {
			return nil
		}
		names := b.Bucket(namesBucket)
		// bolt iterates keys in byte order, which matches ORDER BY key_id
		return b.Bucket(valuesBucket).ForEach(func(k, v []byte) error {
			result = append(result, models.SecureEntry{
				ContainerID: containerID,
				KeyID:       string(k),
				Name:        bytes.Clone(names.Get(k)),
				Value:       bytes.Clone(v),
			})
			return nil
		})
	})
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	return result, nil
}

func (r *BoltRepository) Clear(_ context.Context, containerID string) error {
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := container(tx, containerID)
		if b == nil {
			return nil
		}
		for _, name := range [][]byte{namesBucket, valuesBucket} {
			if err := b.DeleteBucket(name); err != nil {
				return err
			}
			if _, err := b.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storageErr("clear entries", err)
	}
	return nil
}

func (r *BoltRepository) Count(_ context.Context, containerID string) (int, error) {
	n := 0
	err := r.db.View(func(tx *bolt.Tx) error {
		b := container(tx, containerID)
		if b == nil {
			return nil
		}
		return b.Bucket(valuesBucket).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	if err != nil {
		return 0, storageErr("count entries", err)
	}
	return n, nil
}

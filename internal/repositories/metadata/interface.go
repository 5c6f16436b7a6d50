// Package metadata stores small opaque blobs by key. The profile index is
// kept here.
package metadata

import (
	"context"
)

// Repository is a flat key/value table. Get returns (nil, nil) for a missing
// key; every driver failure matches common.ErrStorageIO.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}

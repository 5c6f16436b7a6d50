package securestore

import (
	"context"
	"encoding/json"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// StoreJSON stores v as JSON under name.
func StoreJSON[T any](ctx context.Context, s *Store, name string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(b)
	return s.Store(ctx, name, b)
}

// RetrieveJSON loads name and decodes it into a T. ok is false when the key
// does not exist.
func RetrieveJSON[T any](ctx context.Context, s *Store, name string) (v T, ok bool, err error) {
	b, err := s.Retrieve(ctx, name)
	if err != nil || b == nil {
		return v, false, err
	}
	defer common.WipeByteArray(b)
	if err := json.Unmarshal(b, &v); err != nil {
		return v, false, err
	}
	return v, true, nil
}

// Package index persists the ProfileIndex as one sealed blob in the metadata
// repository.
//
// The stored value is a small JSON document:
//
//	{"header": {...cleartext: magic, version, kdf, salt...}, "sealed": "<envelope>"}
//
// The header is needed to derive the master key before anything can be
// decrypted. Its exact bytes are bound to the sealed index as associated
// data, so editing the salt or KDF parameters on disk breaks authentication.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/metadata"
	"github.com/dmitrijs2005/profilekeeper/internal/secret"
)

const (
	// Key is the metadata key holding the index blob.
	Key = "profile_index"

	headerMagic   = "profilekeeper-index"
	headerVersion = 1
)

// Header is the cleartext part of the stored index.
type Header struct {
	Magic   string            `json:"magic"`
	Version int               `json:"version"`
	KDF     cryptox.KDFParams `json:"kdf"`
	Salt    []byte            `json:"salt"`
}

// NewHeader returns a header for a fresh index keyed with kdf and salt.
func NewHeader(kdf cryptox.KDFParams, salt []byte) *Header {
	return &Header{Magic: headerMagic, Version: headerVersion, KDF: kdf, Salt: bytes.Clone(salt)}
}

type stored struct {
	Header json.RawMessage `json:"header"`
	Sealed []byte          `json:"sealed"`
}

// Store reads and writes the index blob.
type Store struct {
	repo   metadata.Repository
	cipher *cryptox.Cipher
}

func NewStore(repo metadata.Repository, cipher *cryptox.Cipher) *Store {
	return &Store{repo: repo, cipher: cipher}
}

func (s *Store) read(ctx context.Context) (*stored, *Header, error) {
	raw, err := s.repo.Get(ctx, Key)
	if err != nil {
		return nil, nil, err
	}
	if raw == nil {
		return nil, nil, nil
	}

	var st stored
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, nil, fmt.Errorf("%w: index blob: %w", common.ErrIntegrity, err)
	}
	var h Header
	if err := json.Unmarshal(st.Header, &h); err != nil {
		return nil, nil, fmt.Errorf("%w: index header: %w", common.ErrIntegrity, err)
	}
	if h.Magic != headerMagic || h.Version != headerVersion {
		return nil, nil, fmt.Errorf("%w: unrecognized index header (version %d)", common.ErrIntegrity, h.Version)
	}
	if len(h.Salt) < cryptox.MinSaltSize {
		return nil, nil, fmt.Errorf("%w: index salt too short", common.ErrIntegrity)
	}
	return &st, &h, nil
}

// LoadHeader returns the stored header, or (nil, nil) when no index exists.
func (s *Store) LoadHeader(ctx context.Context) (*Header, error) {
	_, h, err := s.read(ctx)
	return h, err
}

// Load decrypts and validates the stored index under masterKey. A wrong key,
// tampering and structural damage all yield common.ErrIntegrity.
func (s *Store) Load(ctx context.Context, masterKey *secret.Key) (*models.ProfileIndex, error) {
	st, h, err := s.read(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("%w: no index stored", common.ErrNotFound)
	}

	var ix models.ProfileIndex
	err = masterKey.Use(func(key []byte) error {
		return cryptox.OpenJSON(key, st.Sealed, st.Header, &ix)
	})
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ix.MasterKeySalt, h.Salt) {
		return nil, fmt.Errorf("%w: index salt does not match header", common.ErrIntegrity)
	}
	if ix.Profiles == nil {
		ix.Profiles = make(map[string]*models.ProfileRecord)
	}
	if err := ix.Validate(); err != nil {
		return nil, err
	}
	return &ix, nil
}

// Save seals ix under masterKey and replaces the stored blob.
func (s *Store) Save(ctx context.Context, h *Header, masterKey *secret.Key, ix *models.ProfileIndex) error {
	hdr, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal index header: %w", err)
	}

	var sealed []byte
	err = masterKey.Use(func(key []byte) error {
		var err error
		sealed, err = s.cipher.SealJSON(key, ix, hdr)
		return err
	})
	if err != nil {
		return fmt.Errorf("seal index: %w", err)
	}

	raw, err := json.Marshal(stored{Header: hdr, Sealed: sealed})
	if err != nil {
		return fmt.Errorf("marshal index blob: %w", err)
	}
	return s.repo.Set(ctx, Key, raw)
}

// Backup copies the current blob aside under a timestamped key and returns
// that key. It is used before a corrupt index is replaced.
func (s *Store) Backup(ctx context.Context, now time.Time) (string, error) {
	raw, err := s.repo.Get(ctx, Key)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", nil
	}
	key := fmt.Sprintf("%s.corrupt.%d", Key, now.UnixNano())
	if err := s.repo.Set(ctx, key, raw); err != nil {
		return "", err
	}
	return key, nil
}

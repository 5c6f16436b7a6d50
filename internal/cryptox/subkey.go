package cryptox

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"golang.org/x/crypto/hkdf"
)

// DeriveSubkey expands key into an independent KeySize subkey for label.
// Different labels give unrelated keys, so one profile key can safely feed
// both value encryption and key-name hashing.
func DeriveSubkey(key []byte, label string) ([]byte, error) {
	r := hkdf.New(sha256.New, key, nil, []byte(common.AppName+"/"+label))
	out := make([]byte, KeySize)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("hkdf expand: %w", err)
	}
	return out, nil
}

// KeyID returns the hex HMAC-SHA256 of name under macKey. It is used as the
// on-disk lookup id so that key names are never stored in the clear.
func KeyID(macKey []byte, name string) string {
	m := hmac.New(sha256.New, macKey)
	m.Write([]byte(name))
	return hex.EncodeToString(m.Sum(nil))
}

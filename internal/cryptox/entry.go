package cryptox

import (
	"encoding/json"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// SealJSON serializes v to JSON and seals it under key, binding aad.
//
// Example:
//
//	blob, err := c.SealJSON(key, index, header)
//	...
//	var ix models.ProfileIndex
//	err = cryptox.OpenJSON(key, blob, header, &ix)
func (c *Cipher) SealJSON(key []byte, v any, aad []byte) ([]byte, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	defer common.WipeByteArray(plaintext)
	return c.Seal(key, plaintext, aad)
}

// OpenJSON opens blob under key and unmarshals the plaintext into v.
func OpenJSON(key, blob, aad []byte, v any) error {
	plaintext, err := Unseal(key, blob, aad)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(plaintext)
	return json.Unmarshal(plaintext, v)
}

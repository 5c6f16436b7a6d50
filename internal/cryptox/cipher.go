package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"golang.org/x/crypto/chacha20poly1305"
)

// Suite names an AEAD construction.
type Suite string

const (
	SuiteAES256GCM         Suite = "aes-256-gcm"
	SuiteXChaCha20Poly1305 Suite = "xchacha20-poly1305"
)

// TagSize is the authentication tag length of every supported suite.
const TagSize = 16

// Sealed is the output of a single encryption: a fresh nonce, the ciphertext
// and its authentication tag. The suite travels with the data so values
// sealed under an older default still open.
type Sealed struct {
	Suite      Suite
	Nonce      []byte
	Ciphertext []byte
	Tag        []byte
}

// Cipher seals data under a fixed suite. It holds no key material and is
// safe for concurrent use.
type Cipher struct {
	suite Suite
}

// NewCipher returns a Cipher for suite. An empty suite selects AES-256-GCM.
func NewCipher(suite Suite) (*Cipher, error) {
	if suite == "" {
		suite = SuiteAES256GCM
	}
	if _, ok := suiteIDs[suite]; !ok {
		return nil, fmt.Errorf("%w: unknown cipher suite %q", common.ErrInvalidArgument, suite)
	}
	return &Cipher{suite: suite}, nil
}

// Suite reports the suite used for new encryptions.
func (c *Cipher) Suite() Suite {
	return c.suite
}

func newAEAD(suite Suite, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: key must be %d bytes", common.ErrInvalidArgument, KeySize)
	}
	switch suite {
	case SuiteAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case SuiteXChaCha20Poly1305:
		return chacha20poly1305.NewX(key)
	default:
		return nil, fmt.Errorf("%w: unknown cipher suite %q", common.ErrIntegrity, suite)
	}
}

// Encrypt seals plaintext under key, binding aad. Every call draws a new
// random nonce; with 96-bit (GCM) or 192-bit (XChaCha) nonces the chance of
// a repeat under one key is negligible.
func (c *Cipher) Encrypt(key, plaintext, aad []byte) (*Sealed, error) {
	aead, err := newAEAD(c.suite, key)
	if err != nil {
		return nil, err
	}

	nonce := common.GenerateRandByteArray(aead.NonceSize())
	out := aead.Seal(nil, nonce, plaintext, aad)
	split := len(out) - aead.Overhead()

	return &Sealed{
		Suite:      c.suite,
		Nonce:      nonce,
		Ciphertext: out[:split],
		Tag:        out[split:],
	}, nil
}

// Decrypt opens s under key. Any malformed field, wrong key, wrong aad or
// tampered byte yields an error matching common.ErrIntegrity and no
// plaintext.
func (c *Cipher) Decrypt(key []byte, s *Sealed, aad []byte) ([]byte, error) {
	return Open(key, s, aad)
}

// Open is Decrypt without a Cipher value; the suite is taken from s.
func Open(key []byte, s *Sealed, aad []byte) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nothing to decrypt", common.ErrIntegrity)
	}
	aead, err := newAEAD(s.Suite, key)
	if err != nil {
		return nil, err
	}
	if len(s.Nonce) != aead.NonceSize() || len(s.Tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: malformed envelope", common.ErrIntegrity)
	}

	buf := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)

	plaintext, err := aead.Open(nil, s.Nonce, buf, aad)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication tag mismatch", common.ErrIntegrity)
	}
	return plaintext, nil
}

// Seal encrypts and serializes in one step.
func (c *Cipher) Seal(key, plaintext, aad []byte) ([]byte, error) {
	s, err := c.Encrypt(key, plaintext, aad)
	if err != nil {
		return nil, err
	}
	return s.MarshalBinary()
}

// Unseal parses blob and opens it.
func Unseal(key, blob, aad []byte) ([]byte, error) {
	s, err := UnmarshalSealed(blob)
	if err != nil {
		return nil, err
	}
	return Open(key, s, aad)
}

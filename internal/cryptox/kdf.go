// Package cryptox implements the password-based key derivation and
// authenticated encryption primitives used by the profile index and the
// per-profile secure stores.
package cryptox

import (
	"bytes"
	"context"
	"crypto/sha512"
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFAlgorithm names a password-based key derivation function.
type KDFAlgorithm string

const (
	KDFArgon2id     KDFAlgorithm = "argon2id"
	KDFPBKDF2SHA512 KDFAlgorithm = "pbkdf2-sha512"
)

const (
	// KeySize is the length of every derived key.
	KeySize = 32
	// SaltSize is the length of salts produced by GenerateSalt.
	SaltSize = 32
	// MinSaltSize is the shortest salt DeriveKey accepts.
	MinSaltSize = 16
)

// KDFParams selects a KDF and its work factor. The parameters are persisted
// next to every salt so that keys can be re-derived after defaults change.
type KDFParams struct {
	Algorithm KDFAlgorithm `json:"algorithm"`

	// Argon2id cost.
	Time      uint32 `json:"time,omitempty"`
	MemoryKiB uint32 `json:"memory_kib,omitempty"`
	Threads   uint8  `json:"threads,omitempty"`

	// PBKDF2 cost.
	Iterations int `json:"iterations,omitempty"`
}

// DefaultKDFParams returns argon2id with 3 passes over 64 MiB on 4 lanes.
func DefaultKDFParams() KDFParams {
	return KDFParams{Algorithm: KDFArgon2id, Time: 3, MemoryKiB: 64 * 1024, Threads: 4}
}

// DefaultPBKDF2Params returns PBKDF2-HMAC-SHA512 with 600k iterations.
func DefaultPBKDF2Params() KDFParams {
	return KDFParams{Algorithm: KDFPBKDF2SHA512, Iterations: 600_000}
}

// KDFPreset returns the recommended cost for alg: DefaultKDFParams for
// argon2id, DefaultPBKDF2Params for pbkdf2-sha512.
func KDFPreset(alg KDFAlgorithm) (KDFParams, error) {
	switch alg {
	case KDFArgon2id:
		return DefaultKDFParams(), nil
	case KDFPBKDF2SHA512:
		return DefaultPBKDF2Params(), nil
	default:
		return KDFParams{}, fmt.Errorf("%w: unknown KDF preset %q", common.ErrInvalidArgument, alg)
	}
}

// InsecureKDFParams returns a deliberately cheap argon2id configuration.
// It exists for tests and must never be used to protect real data.
func InsecureKDFParams() KDFParams {
	return KDFParams{Algorithm: KDFArgon2id, Time: 1, MemoryKiB: 1024, Threads: 1}
}

// Validate checks that the parameters are structurally usable.
func (p KDFParams) Validate() error {
	switch p.Algorithm {
	case KDFArgon2id:
		if p.Time < 1 || p.Threads < 1 {
			return fmt.Errorf("%w: argon2id needs time>=1 and threads>=1", common.ErrInvalidArgument)
		}
		if p.MemoryKiB < 8*uint32(p.Threads) {
			return fmt.Errorf("%w: argon2id memory must be at least 8 KiB per thread", common.ErrInvalidArgument)
		}
	case KDFPBKDF2SHA512:
		if p.Iterations < 1 {
			return fmt.Errorf("%w: pbkdf2 needs iterations>=1", common.ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown kdf %q", common.ErrInvalidArgument, p.Algorithm)
	}
	return nil
}

// GenerateSalt returns SaltSize bytes from a cryptographically secure source.
func GenerateSalt() []byte {
	return common.GenerateRandByteArray(SaltSize)
}

// DeriveKey turns password and salt into a KeySize key. The result is
// deterministic for identical inputs. Errors are returned only for malformed
// input: a short salt or unusable parameters.
func DeriveKey(password, salt []byte, p KDFParams) ([]byte, error) {
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt must be at least %d bytes", common.ErrInvalidArgument, MinSaltSize)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	switch p.Algorithm {
	case KDFPBKDF2SHA512:
		return pbkdf2.Key(password, salt, p.Iterations, KeySize, sha512.New), nil
	default:
		return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Threads, KeySize), nil
	}
}

// DeriveKeyContext runs DeriveKey on its own goroutine so the caller can
// stop waiting when ctx is done. Derivation itself cannot be interrupted;
// an abandoned result is wiped as soon as it is produced.
func DeriveKeyContext(ctx context.Context, password, salt []byte, p KDFParams) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type result struct {
		key []byte
		err error
	}

	// the caller may wipe password as soon as we return
	pw := bytes.Clone(password)
	ch := make(chan result, 1)

	go func() {
		defer common.WipeByteArray(pw)
		key, err := DeriveKey(pw, salt, p)
		ch <- result{key: key, err: err}
	}()

	select {
	case r := <-ch:
		return r.key, r.err
	case <-ctx.Done():
		go func() {
			r := <-ch
			common.WipeByteArray(r.key)
		}()
		return nil, ctx.Err()
	}
}

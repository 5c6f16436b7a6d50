// Package secret keeps key material in memguard locked buffers: memory that
// is mlock'ed, guarded, and overwritten on Destroy.
package secret

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
	"github.com/dmitrijs2005/profilekeeper/internal/common"
)

// Key is an opaque handle to a symmetric key. The raw bytes are reachable
// only inside Use, so callers cannot keep copies by accident.
type Key struct {
	mu  sync.RWMutex
	buf *memguard.LockedBuffer
}

// NewKey moves b into locked memory. b is wiped before NewKey returns,
// whether or not it succeeds.
func NewKey(b []byte) (*Key, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty key", common.ErrInvalidArgument)
	}
	return &Key{buf: memguard.NewBufferFromBytes(b)}, nil
}

// Use calls fn with the key bytes. fn must not retain the slice or block:
// Destroy waits for every running Use before wiping.
func (k *Key) Use(fn func(key []byte) error) error {
	k.mu.RLock()
	defer k.mu.RUnlock()

	if k.buf == nil || !k.buf.IsAlive() {
		return common.ErrLocked
	}
	return fn(k.buf.Bytes())
}

// Destroy overwrites and releases the key. It is safe to call more than once
// and from multiple goroutines.
func (k *Key) Destroy() {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.buf != nil {
		k.buf.Destroy()
		k.buf = nil
	}
}

// Alive reports whether the key has not been destroyed.
func (k *Key) Alive() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.buf != nil && k.buf.IsAlive()
}

// Derive runs fn over the key bytes and wraps its output in a new Key.
// Used for subkeys (HKDF) so intermediate bytes never outlive the call.
func (k *Key) Derive(fn func(key []byte) ([]byte, error)) (*Key, error) {
	var out []byte
	err := k.Use(func(key []byte) error {
		var err error
		out, err = fn(key)
		return err
	})
	if err != nil {
		common.WipeByteArray(out)
		return nil, err
	}
	return NewKey(out)
}

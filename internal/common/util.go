package common

import "crypto/rand"

// GenerateRandByteArray returns size bytes read from crypto/rand.
//
// crypto/rand.Read does not return errors on supported platforms, so the
// result is always fully populated.
func GenerateRandByteArray(size int) []byte {
	b := make([]byte, size)
	_, _ = rand.Read(b)
	return b
}

// WipeByteArray overwrites the contents of b with zeros. It is safe to call
// with a nil slice.
func WipeByteArray(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

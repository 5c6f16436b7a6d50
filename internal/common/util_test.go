package common

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWipeByteArray_ZerosBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}
	WipeByteArray(buf)
	require.Equal(t, make([]byte, 5), buf)
}

func TestWipeByteArray_NilSafe(t *testing.T) {
	require.NotPanics(t, func() { WipeByteArray(nil) })
}

func TestGenerateRandByteArray_LengthAndDistinct(t *testing.T) {
	const n = 32
	a := GenerateRandByteArray(n)
	b := GenerateRandByteArray(n)

	require.Len(t, a, n)
	require.Len(t, b, n)
	require.False(t, bytes.Equal(a, b), "two 32-byte random buffers must differ")
}

func TestSentinels_MatchThroughDoubleWrap(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("%w: write index: %w", ErrStorageIO, cause)

	require.ErrorIs(t, err, ErrStorageIO)
	require.ErrorIs(t, err, cause)
	require.NotErrorIs(t, err, ErrIntegrity)
}

package secret

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/stretchr/testify/require"
)

func TestNewKey_WipesSource(t *testing.T) {
	src := bytes.Repeat([]byte{0xAB}, 32)

	k, err := NewKey(src)
	require.NoError(t, err)
	t.Cleanup(k.Destroy)

	require.Equal(t, make([]byte, 32), src, "source bytes must be wiped")

	require.NoError(t, k.Use(func(b []byte) error {
		require.Equal(t, bytes.Repeat([]byte{0xAB}, 32), b)
		return nil
	}))
}

func TestNewKey_RejectsEmpty(t *testing.T) {
	_, err := NewKey(nil)
	require.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestKey_UseAfterDestroy(t *testing.T) {
	k, err := NewKey(common.GenerateRandByteArray(32))
	require.NoError(t, err)

	require.True(t, k.Alive())
	k.Destroy()
	k.Destroy()
	require.False(t, k.Alive())

	called := false
	err = k.Use(func([]byte) error { called = true; return nil })
	require.ErrorIs(t, err, common.ErrLocked)
	require.False(t, called)
}

func TestKey_UsePropagatesError(t *testing.T) {
	k, err := NewKey(common.GenerateRandByteArray(32))
	require.NoError(t, err)
	t.Cleanup(k.Destroy)

	boom := errors.New("boom")
	require.ErrorIs(t, k.Use(func([]byte) error { return boom }), boom)
}

func TestKey_DestroyWaitsForUsers(t *testing.T) {
	k, err := NewKey(common.GenerateRandByteArray(32))
	require.NoError(t, err)

	entered := make(chan struct{})
	release := make(chan struct{})
	var seen []byte

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = k.Use(func(b []byte) error {
			close(entered)
			<-release
			seen = bytes.Clone(b)
			return nil
		})
	}()

	<-entered
	destroyed := make(chan struct{})
	go func() {
		k.Destroy()
		close(destroyed)
	}()

	select {
	case <-destroyed:
		t.Fatal("Destroy returned while a Use was running")
	default:
	}

	close(release)
	wg.Wait()
	<-destroyed

	require.Len(t, seen, 32, "user saw intact key bytes")
	require.False(t, k.Alive())
}

func TestKey_Derive(t *testing.T) {
	k, err := NewKey(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	t.Cleanup(k.Destroy)

	sub, err := k.Derive(func(b []byte) ([]byte, error) {
		out := bytes.Clone(b)
		out[0] = 9
		return out, nil
	})
	require.NoError(t, err)
	t.Cleanup(sub.Destroy)

	require.NoError(t, sub.Use(func(b []byte) error {
		require.Equal(t, byte(9), b[0])
		return nil
	}))

	k.Destroy()
	_, err = k.Derive(func(b []byte) ([]byte, error) { return b, nil })
	require.ErrorIs(t, err, common.ErrLocked)
}

func TestKeyring_DestroyAll(t *testing.T) {
	r := NewKeyring()

	a, err := NewKey(common.GenerateRandByteArray(32))
	require.NoError(t, err)
	b, err := NewKey(common.GenerateRandByteArray(32))
	require.NoError(t, err)

	var none *Key
	r.Add(a, b, none, nil)
	require.Equal(t, 2, r.Len())

	r.Release(a)
	require.False(t, a.Alive())
	require.Equal(t, 1, r.Len())

	require.Equal(t, 1, r.DestroyAll())
	require.False(t, b.Alive())
	require.Equal(t, 0, r.Len())
	require.Equal(t, 0, r.DestroyAll())
}

type wiper struct{ n int }

func (w *wiper) Destroy() { w.n++ }

func TestKeyring_AnyDestroyer(t *testing.T) {
	r := NewKeyring()
	w := &wiper{}
	r.Add(w)
	r.Release(w)
	require.Equal(t, 1, w.n)
	require.Zero(t, r.DestroyAll())
}

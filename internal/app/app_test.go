package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/autolock"
	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/config"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
	"github.com/dmitrijs2005/profilekeeper/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, driver string) *config.Config {
	t.Helper()
	c := &config.Config{}
	c.LoadDefaults()
	c.Storage.Driver = driver
	c.Storage.Dir = filepath.Join(t.TempDir(), "data")
	kdf := cryptox.InsecureKDFParams()
	c.Crypto.KDF = config.KDF{Algorithm: string(kdf.Algorithm), Time: kdf.Time, MemoryKiB: kdf.MemoryKiB, Threads: kdf.Threads}
	require.NoError(t, c.Validate())
	return c
}

func TestApp_StartUseShutdown(t *testing.T) {
	for _, driver := range []string{storage.DriverSQLite, storage.DriverBolt} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			cfg := testConfig(t, driver)
			var logs bytes.Buffer

			a, err := New(ctx, cfg, &logs, autolock.Hooks{})
			require.NoError(t, err)
			require.NoError(t, a.Start(ctx, []byte("master")))

			id, err := a.Manager.CreateProfile(ctx, "alice", []byte("pw"), models.ProfileOptions{})
			require.NoError(t, err)
			require.NoError(t, a.Manager.SwitchProfile(ctx, id, []byte("pw")))
			_, armed := a.AutoLock.Armed()
			assert.True(t, armed, "switching arms auto-lock")
			a.Activity.Emit("keypress")

			n, err := testutil.GatherAndCount(a.Registry(), "profilekeeper_lifecycle_operations_total")
			require.NoError(t, err)
			assert.Positive(t, n)

			require.NoError(t, a.Shutdown(ctx))
			_, armed = a.AutoLock.Armed()
			assert.False(t, armed)

			entries, err := os.ReadDir(cfg.Storage.Dir)
			require.NoError(t, err)
			assert.NotEmpty(t, entries)
			assert.Contains(t, logs.String(), "profilekeeper started")
			assert.NotContains(t, logs.String(), "master")
		})
	}
}

func TestApp_WrongMasterPassword(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, storage.DriverSQLite)

	a, err := New(ctx, cfg, &bytes.Buffer{}, autolock.Hooks{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx, []byte("master")))
	require.NoError(t, a.Shutdown(ctx))

	a, err = New(ctx, cfg, &bytes.Buffer{}, autolock.Hooks{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(ctx) })
	require.ErrorIs(t, a.Start(ctx, []byte("guess")), common.ErrInitialization)
}

func TestApp_WaitShutsDownOnCancel(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, storage.DriverSQLite), &bytes.Buffer{}, autolock.Hooks{})
	require.NoError(t, err)
	require.NoError(t, a.Start(ctx, []byte("master")))

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	require.NoError(t, a.Wait(ctx))
	assert.False(t, a.Manager.Initialized())
}

func TestApp_GuardWipesOnPanic(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t, storage.DriverSQLite), &bytes.Buffer{}, autolock.Hooks{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Shutdown(ctx) })
	require.NoError(t, a.Start(ctx, []byte("master")))
	id, err := a.Manager.CreateProfile(ctx, "alice", []byte("pw"), models.ProfileOptions{})
	require.NoError(t, err)
	require.NoError(t, a.Manager.SwitchProfile(ctx, id, []byte("pw")))
	s, err := a.Manager.ActiveStore()
	require.NoError(t, err)

	require.PanicsWithValue(t, "boom", func() {
		defer a.Guard()
		panic("boom")
	})

	_, err = s.ListKeys(ctx)
	require.ErrorIs(t, err, common.ErrLocked)
	assert.False(t, a.Manager.Initialized())
}

func TestNew_BadLogConfig(t *testing.T) {
	cfg := testConfig(t, storage.DriverSQLite)
	cfg.Log.Format = "xml"
	_, err := New(context.Background(), cfg, &bytes.Buffer{}, autolock.Hooks{})
	require.Error(t, err)
}

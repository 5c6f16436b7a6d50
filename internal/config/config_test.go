package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/autolock"
	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/profiles"
	"github.com/dmitrijs2005/profilekeeper/internal/storage"
	"github.com/dmitrijs2005/profilekeeper/internal/timex"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func defaults(t *testing.T) *Config {
	t.Helper()
	c := &Config{}
	c.LoadDefaults()
	return c
}

func TestLoadDefaults(t *testing.T) {
	c := defaults(t)

	assert.Equal(t, storage.DriverSQLite, c.Storage.Driver)
	assert.Equal(t, common.AppName, filepath.Base(c.Storage.Dir))
	assert.Equal(t, cryptox.DefaultKDFParams(), c.Crypto.KDF.Params())
	assert.Equal(t, "fail", c.Index.CorruptionPolicy)
	assert.Equal(t, 15, c.Profiles.AutoLockMinutes)
	assert.True(t, c.AutoLock.ExcludeGuests)
	assert.Equal(t, 100*time.Millisecond, c.AutoLock.Debounce.Duration)
	require.NoError(t, c.Validate())
}

func TestLoad_NoArgsIsDefaults(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(defaults(t), cfg))
}

func TestLoad_JSONFile(t *testing.T) {
	path := writeFile(t, "cfg.json", `{
  "storage": {"driver": "bolt", "dir": "/tmp/pk"},
  "index": {"corruption_policy": "rebuild"},
  "auto_lock": {"warning_seconds": 10, "debounce": "250ms", "events": ["keypress"]},
  "profiles": {"theme": "dark"}
}`)

	cfg, err := Load([]string{"-c", path})
	require.NoError(t, err)

	want := defaults(t)
	want.Storage.Driver = storage.DriverBolt
	want.Storage.Dir = "/tmp/pk"
	want.Index.CorruptionPolicy = "rebuild"
	want.AutoLock.WarningSeconds = 10
	want.AutoLock.Debounce = timex.D(250 * time.Millisecond)
	want.AutoLock.Events = []string{"keypress"}
	want.Profiles.Theme = "dark"
	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoad_TOMLFile(t *testing.T) {
	path := writeFile(t, "cfg.toml", `
[storage]
path = "/tmp/pk/custom.db"

[crypto]
suite = "xchacha20-poly1305"

[crypto.kdf]
algorithm = "pbkdf2-sha512"
iterations = 1000

[auto_lock]
enabled = false
debounce = "1s"

[log]
format = "json"
`)

	cfg, err := Load([]string{"-config=" + path})
	require.NoError(t, err)

	want := defaults(t)
	want.Storage.Path = "/tmp/pk/custom.db"
	want.Crypto.Suite = "xchacha20-poly1305"
	want.Crypto.KDF.Algorithm = "pbkdf2-sha512"
	want.Crypto.KDF.Iterations = 1000
	want.AutoLock.Enabled = false
	want.AutoLock.Debounce = timex.D(time.Second)
	want.Log.Format = "json"
	assert.Empty(t, cmp.Diff(want, cfg))
}

func TestLoad_FlagsOverrideFile(t *testing.T) {
	path := writeFile(t, "cfg.json", `{"storage": {"driver": "bolt", "dir": "/from/file"}, "log": {"level": "warn"}}`)

	cfg, err := Load([]string{"-c", path, "-d", "/from/flag", "-l", "debug", "-x", "ignored"})
	require.NoError(t, err)
	assert.Equal(t, "/from/flag", cfg.Storage.Dir)
	assert.Equal(t, storage.DriverBolt, cfg.Storage.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)

	cfg, err = Load([]string{"-b", "sqlite"})
	require.NoError(t, err)
	assert.Equal(t, storage.DriverSQLite, cfg.Storage.Driver)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		args func(t *testing.T) []string
	}{
		{"missing file", func(t *testing.T) []string {
			return []string{"-c", filepath.Join(t.TempDir(), "nope.json")}
		}},
		{"bad json", func(t *testing.T) []string {
			return []string{"-c", writeFile(t, "cfg.json", `{"storage":`)}
		}},
		{"unknown json key", func(t *testing.T) []string {
			return []string{"-c", writeFile(t, "cfg.json", `{"storage": {"drvier": "bolt"}}`)}
		}},
		{"unknown toml key", func(t *testing.T) []string {
			return []string{"-c", writeFile(t, "cfg.toml", "[storage]\ndrvier = \"bolt\"\n")}
		}},
		{"bad duration", func(t *testing.T) []string {
			return []string{"-c", writeFile(t, "cfg.toml", "[auto_lock]\ndebounce = \"soon\"\n")}
		}},
		{"unknown driver", func(t *testing.T) []string { return []string{"-b", "postgres"} }},
		{"unknown level", func(t *testing.T) []string { return []string{"-l", "loud"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.args(t))
			require.Error(t, err)
		})
	}
}

func TestLoad_KDFPreset(t *testing.T) {
	path := writeFile(t, "cfg.toml", "[crypto.kdf]\npreset = \"pbkdf2-sha512\"\n")

	cfg, err := Load([]string{"-c", path})
	require.NoError(t, err)
	assert.Equal(t, cryptox.DefaultPBKDF2Params(), cfg.Crypto.KDF.Params())
	assert.Equal(t, cryptox.DefaultPBKDF2Params(), cfg.ManagerConfig().KDF)

	c := defaults(t)
	c.Crypto.KDF.Preset = "md5"
	err = c.Validate()
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	assert.Contains(t, err.Error(), "crypto.kdf.preset")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	c := defaults(t)
	c.Storage.Driver = "ftp"
	c.Crypto.Suite = "rot13"
	c.Index.CorruptionPolicy = "ignore"
	c.Profiles.AutoLockMinutes = -1
	c.Log.Format = "xml"

	err := c.Validate()
	require.ErrorIs(t, err, common.ErrInvalidArgument)
	for _, want := range []string{"storage.driver", "crypto.suite", "index.corruption_policy", "profiles.auto_lock_minutes", "log.format"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestConversions(t *testing.T) {
	c := defaults(t)
	c.Profiles.Preload = true

	assert.Empty(t, cmp.Diff(storage.Config{Driver: storage.DriverSQLite, Dir: c.Storage.Dir}, c.StorageConfig()))

	mc := c.ManagerConfig()
	want := profiles.DefaultConfig()
	want.PreloadCache = true
	assert.Empty(t, cmp.Diff(want, mc))
	_, err := profiles.NewManager(nil, nil, mc)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	ac := c.AutoLockConfig()
	wantAL := autolock.DefaultConfig()
	wantAL.Events = c.AutoLock.Events
	wantAL.Debounce = 100 * time.Millisecond
	assert.Empty(t, cmp.Diff(wantAL, ac))
}

// Package config loads runtime configuration for profilekeeper.
//
// Sources, later ones winning:
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. An optional JSON or TOML file chosen with -c or -config. Files ending
//     in .toml are decoded as TOML, anything else as JSON. Only the keys
//     present in the file are applied; unknown keys are an error.
//  3. Command-line flags: -d data dir, -b storage driver, -l log level.
//
// Example TOML:
//
//	[storage]
//	driver = "bolt"
//
//	[crypto.kdf]
//	algorithm = "argon2id"
//	time = 3
//	memory_kib = 65536
//	threads = 4
//
//	[auto_lock]
//	warning_seconds = 30
//	debounce = "250ms"
package config

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/profilekeeper/internal/autolock"
	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/cryptox"
	"github.com/dmitrijs2005/profilekeeper/internal/filex"
	"github.com/dmitrijs2005/profilekeeper/internal/idle"
	"github.com/dmitrijs2005/profilekeeper/internal/logging"
	"github.com/dmitrijs2005/profilekeeper/internal/profiles"
	"github.com/dmitrijs2005/profilekeeper/internal/storage"
	"github.com/dmitrijs2005/profilekeeper/internal/timex"
)

type Config struct {
	Storage  Storage  `json:"storage" toml:"storage"`
	Crypto   Crypto   `json:"crypto" toml:"crypto"`
	Index    Index    `json:"index" toml:"index"`
	Profiles Profiles `json:"profiles" toml:"profiles"`
	AutoLock AutoLock `json:"auto_lock" toml:"auto_lock"`
	Log      Log      `json:"log" toml:"log"`
}

type Storage struct {
	// Driver is "sqlite" or "bolt".
	Driver string `json:"driver" toml:"driver"`
	Dir    string `json:"dir" toml:"dir"`
	// Path overrides the database file; empty means a driver-specific
	// file inside Dir.
	Path string `json:"path" toml:"path"`
}

type Crypto struct {
	KDF   KDF    `json:"kdf" toml:"kdf"`
	Suite string `json:"suite" toml:"suite"`
}

// KDF mirrors cryptox.KDFParams with file-friendly keys. A non-empty Preset
// ("argon2id" or "pbkdf2-sha512") selects that algorithm's recommended cost
// and the other fields are ignored.
type KDF struct {
	Preset     string `json:"preset,omitempty" toml:"preset,omitempty"`
	Algorithm  string `json:"algorithm" toml:"algorithm"`
	Time       uint32 `json:"time" toml:"time"`
	MemoryKiB  uint32 `json:"memory_kib" toml:"memory_kib"`
	Threads    uint8  `json:"threads" toml:"threads"`
	Iterations int    `json:"iterations" toml:"iterations"`
}

func (k KDF) Params() cryptox.KDFParams {
	if k.Preset != "" {
		if p, err := cryptox.KDFPreset(cryptox.KDFAlgorithm(k.Preset)); err == nil {
			return p
		}
	}
	return cryptox.KDFParams{
		Algorithm:  cryptox.KDFAlgorithm(k.Algorithm),
		Time:       k.Time,
		MemoryKiB:  k.MemoryKiB,
		Threads:    k.Threads,
		Iterations: k.Iterations,
	}
}

type Index struct {
	// CorruptionPolicy is "fail" or "rebuild".
	CorruptionPolicy string `json:"corruption_policy" toml:"corruption_policy"`
}

// Profiles holds the defaults applied to new profiles.
type Profiles struct {
	AutoLockMinutes int    `json:"auto_lock_minutes" toml:"auto_lock_minutes"`
	Theme           string `json:"theme" toml:"theme"`
	Language        string `json:"language" toml:"language"`
	GuestName       string `json:"guest_name" toml:"guest_name"`
	Preload         bool   `json:"preload" toml:"preload"`
}

type AutoLock struct {
	Enabled        bool           `json:"enabled" toml:"enabled"`
	WarningSeconds int            `json:"warning_seconds" toml:"warning_seconds"`
	EnableWarning  bool           `json:"enable_warning" toml:"enable_warning"`
	Events         []string       `json:"events" toml:"events"`
	Debounce       timex.Duration `json:"debounce" toml:"debounce"`
	ExcludeGuests  bool           `json:"exclude_guests" toml:"exclude_guests"`
}

type Log struct {
	Level  string `json:"level" toml:"level"`
	Format string `json:"format" toml:"format"`
}

// LoadDefaults populates c with production defaults.
func (c *Config) LoadDefaults() {
	kdf := cryptox.DefaultKDFParams()
	*c = Config{
		Storage: Storage{Driver: storage.DriverSQLite, Dir: filex.DefaultDataDir(common.AppName)},
		Crypto: Crypto{
			KDF: KDF{
				Algorithm: string(kdf.Algorithm),
				Time:      kdf.Time,
				MemoryKiB: kdf.MemoryKiB,
				Threads:   kdf.Threads,
			},
			Suite: string(cryptox.SuiteAES256GCM),
		},
		Index: Index{CorruptionPolicy: string(profiles.PolicyFail)},
		Profiles: Profiles{
			AutoLockMinutes: 15,
			Theme:           "system",
			Language:        "en",
			GuestName:       "Guest",
		},
		AutoLock: AutoLock{
			Enabled:        true,
			WarningSeconds: 30,
			EnableWarning:  true,
			Events:         append([]string(nil), idle.DefaultEvents...),
			Debounce:       timex.D(idle.DefaultDebounce),
			ExcludeGuests:  true,
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load builds a Config from defaults, the file named by -c/-config in args
// and the flags in args. args excludes the program name.
func Load(args []string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if err := parseFile(cfg, args); err != nil {
		return nil, err
	}
	if err := parseFlags(cfg, args); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case storage.DriverSQLite, storage.DriverBolt:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Storage.Dir == "" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage: dir or path is required"))
	}
	if c.Crypto.KDF.Preset != "" {
		if _, err := cryptox.KDFPreset(cryptox.KDFAlgorithm(c.Crypto.KDF.Preset)); err != nil {
			errs = append(errs, fmt.Errorf("crypto.kdf.preset: %w", err))
		}
	} else if err := c.Crypto.KDF.Params().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("crypto.kdf: %w", err))
	}
	if _, err := cryptox.NewCipher(cryptox.Suite(c.Crypto.Suite)); err != nil {
		errs = append(errs, fmt.Errorf("crypto.suite: %w", err))
	}
	switch profiles.CorruptionPolicy(c.Index.CorruptionPolicy) {
	case profiles.PolicyFail, profiles.PolicyRebuild:
	default:
		errs = append(errs, fmt.Errorf("index.corruption_policy: unknown policy %q", c.Index.CorruptionPolicy))
	}
	if c.Profiles.AutoLockMinutes < 0 {
		errs = append(errs, errors.New("profiles.auto_lock_minutes must not be negative"))
	}
	if c.AutoLock.WarningSeconds < 0 {
		errs = append(errs, errors.New("auto_lock.warning_seconds must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", common.ErrInvalidArgument, err)
	}
	return nil
}

func (c *Config) StorageConfig() storage.Config {
	return storage.Config{Driver: c.Storage.Driver, Dir: c.Storage.Dir, Path: c.Storage.Path}
}

func (c *Config) ManagerConfig() profiles.Config {
	return profiles.Config{
		KDF:              c.Crypto.KDF.Params(),
		Suite:            cryptox.Suite(c.Crypto.Suite),
		CorruptionPolicy: profiles.CorruptionPolicy(c.Index.CorruptionPolicy),
		AutoLockMinutes:  c.Profiles.AutoLockMinutes,
		Theme:            c.Profiles.Theme,
		Language:         c.Profiles.Language,
		GuestName:        c.Profiles.GuestName,
		PreloadCache:     c.Profiles.Preload,
	}
}

func (c *Config) AutoLockConfig() autolock.Config {
	return autolock.Config{
		Enabled:        c.AutoLock.Enabled,
		WarningSeconds: c.AutoLock.WarningSeconds,
		EnableWarning:  c.AutoLock.EnableWarning,
		Events:         append([]string(nil), c.AutoLock.Events...),
		Debounce:       c.AutoLock.Debounce.Duration,
		ExcludeGuests:  c.AutoLock.ExcludeGuests,
	}
}

// Package storage opens the configured persistence backend and hands out its
// repositories.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/dbx"
	"github.com/dmitrijs2005/profilekeeper/internal/filex"
	"github.com/dmitrijs2005/profilekeeper/internal/migrations"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/entries"
	"github.com/dmitrijs2005/profilekeeper/internal/repositories/metadata"
	"github.com/pressly/goose/v3"
	bolt "go.etcd.io/bbolt"

	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverBolt   = "bolt"

	// MemoryPath opens a throwaway in-memory SQLite database.
	MemoryPath = ":memory:"
)

// Config selects a driver and its file. An empty Path puts the default file
// name for the driver inside Dir.
type Config struct {
	Driver string
	Dir    string
	Path   string
}

func (c Config) path() string {
	if c.Path != "" {
		return c.Path
	}
	name := common.AppName + ".db"
	if c.Driver == DriverBolt {
		name = common.AppName + ".bolt"
	}
	return filepath.Join(c.Dir, name)
}

// Backend bundles the repositories of one open database.
type Backend struct {
	Driver   string
	Metadata metadata.Repository
	Entries  entries.Repository

	close func() error
}

// Close releases the database.
func (b *Backend) Close() error {
	if b.close == nil {
		return nil
	}
	err := b.close()
	b.close = nil
	return err
}

// Open opens (creating if needed) the backend described by cfg.
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	path := cfg.path()
	if path != MemoryPath {
		if _, err := filex.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
		}
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(ctx, path)
	case DriverBolt:
		return openBolt(path)
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", common.ErrInvalidArgument, cfg.Driver)
	}
}

// sqlitePragmas are applied on the single pooled connection. secure_delete
// overwrites freed pages so dropped containers leave no readable remnants.
var sqlitePragmas = []string{
	`PRAGMA foreign_keys = ON`,
	`PRAGMA secure_delete = ON`,
	`PRAGMA busy_timeout = 5000`,
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db, ".")
}

func openSQLite(ctx context.Context, path string) (*Backend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite: %w", common.ErrStorageIO, err)
	}
	// one connection: pragmas stick, and ":memory:" stays a single database
	db.SetMaxOpenConns(1)

	if err := dbx.ExecAll(ctx, db, sqlitePragmas...); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", common.ErrStorageIO, err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: migrate: %w", common.ErrStorageIO, err)
	}

	return &Backend{
		Driver:   DriverSQLite,
		Metadata: metadata.NewSQLiteRepository(db),
		Entries:  entries.NewSQLiteRepository(db),
		close:    db.Close,
	}, nil
}

func openBolt(path string) (*Backend, error) {
	if path == MemoryPath {
		return nil, fmt.Errorf("%w: bolt needs a file path", common.ErrInvalidArgument)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open bolt: %w", common.ErrStorageIO, err)
	}

	meta, err := metadata.NewBoltRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ents, err := entries.NewBoltRepository(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Backend{
		Driver:   DriverBolt,
		Metadata: meta,
		Entries:  ents,
		close:    db.Close,
	}, nil
}

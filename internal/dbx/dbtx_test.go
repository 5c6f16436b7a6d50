package dbx

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func setupDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, ExecAll(context.Background(), db,
		`CREATE TABLE containers (id TEXT PRIMARY KEY)`,
		`CREATE TABLE secure_entries (container_id TEXT NOT NULL, key_id TEXT NOT NULL, PRIMARY KEY (container_id, key_id))`,
	))
	return db
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM `+table).Scan(&n))
	return n
}

func TestWithTx_CommitsOnSuccess(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		if _, err := tx.ExecContext(ctx, `INSERT INTO containers(id) VALUES ('p1')`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO secure_entries(container_id, key_id) VALUES ('p1', 'k')`)
		return err
	})
	require.NoError(t, err)
	require.Equal(t, 1, countRows(t, db, "containers"))
	require.Equal(t, 1, countRows(t, db, "secure_entries"))
}

func TestWithTx_RollbackOnFnError(t *testing.T) {
	db := setupDB(t)

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO containers(id) VALUES ('p1')`)
		require.NoError(t, e)
		return errors.New("boom")
	})
	require.EqualError(t, err, "boom")
	require.Equal(t, 0, countRows(t, db, "containers"), "must rollback when fn returns error")
}

func TestWithTx_RollbackOnPanic(t *testing.T) {
	db := setupDB(t)

	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic to propagate")
		}
		require.Equal(t, 0, countRows(t, db, "containers"), "must rollback on panic")
	}()

	_ = WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		_, e := tx.ExecContext(ctx, `INSERT INTO containers(id) VALUES ('p1')`)
		require.NoError(t, e)
		panic("kaput")
	})
}

func TestWithTx_BeginError(t *testing.T) {
	db := setupDB(t)
	require.NoError(t, db.Close())

	err := WithTx(context.Background(), db, nil, func(ctx context.Context, tx DBTX) error {
		return nil
	})
	require.Error(t, err, "begin should fail when DB is closed")
}

func TestExecAll_StopsAtFirstError(t *testing.T) {
	db := setupDB(t)

	err := ExecAll(context.Background(), db,
		`INSERT INTO containers(id) VALUES ('a')`,
		`INSERT INTO nope(id) VALUES ('b')`,
		`INSERT INTO containers(id) VALUES ('c')`,
	)
	require.Error(t, err)
	require.Contains(t, err.Error(), "nope")
	require.Equal(t, 1, countRows(t, db, "containers"))
}

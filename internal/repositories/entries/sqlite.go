package entries

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/profilekeeper/internal/common"
	"github.com/dmitrijs2005/profilekeeper/internal/dbx"
	"github.com/dmitrijs2005/profilekeeper/internal/models"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", common.ErrStorageIO, op, err)
}

func containerExists(ctx context.Context, db dbx.DBTX, id string) (bool, error) {
	var one int
	err := db.QueryRowContext(ctx, `SELECT 1 FROM containers WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *SQLiteRepository) CreateContainer(ctx context.Context, c models.Container) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		exists, err := containerExists(ctx, tx, c.ID)
		if err != nil {
			return storageErr("check container", err)
		}
		if exists {
			return fmt.Errorf("%w: container %q already exists", common.ErrInvalidArgument, c.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO containers (id, canary, created_at) VALUES (?, ?, ?)`,
			c.ID, c.Canary, c.CreatedAt.UnixNano())
		if err != nil {
			return storageErr("insert container", err)
		}
		return nil
	})
	return asStorageErr("create container", err)
}

func (r *SQLiteRepository) GetContainer(ctx context.Context, id string) (*models.Container, error) {
	c := models.Container{ID: id}
	var created int64
	err := r.db.QueryRowContext(ctx, `SELECT canary, created_at FROM containers WHERE id = ?`, id).Scan(&c.Canary, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: container %q", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, storageErr("get container", err)
	}
	c.CreatedAt = time.Unix(0, created).UTC()
	return &c, nil
}

func (r *SQLiteRepository) ListContainers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM containers ORDER BY id`)
	if err != nil {
		return nil, storageErr("list containers", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, storageErr("scan container row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate container rows", err)
	}
	return ids, nil
}

func (r *SQLiteRepository) DropContainer(ctx context.Context, id string) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM secure_entries WHERE container_id = ?`, id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, id)
		return err
	})
	if err != nil {
		return storageErr(fmt.Sprintf("drop container %q", id), err)
	}
	return nil
}

func (r *SQLiteRepository) Put(ctx context.Context, e models.SecureEntry) error {
	err := dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		exists, err := containerExists(ctx, tx, e.ContainerID)
		if err != nil {
			return storageErr("check container", err)
		}
		if !exists {
			return fmt.Errorf("%w: container %q", common.ErrNotFound, e.ContainerID)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO secure_entries (container_id, key_id, name, value) VALUES (?, ?, ?, ?)
			ON CONFLICT(container_id, key_id) DO UPDATE SET name = excluded.name, value = excluded.value
		`, e.ContainerID, e.KeyID, e.Name, e.Value)
		if err != nil {
			return storageErr("upsert entry", err)
		}
		return nil
	})
	return asStorageErr("put entry", err)
}

func (r *SQLiteRepository) Get(ctx context.Context, containerID, keyID string) (*models.SecureEntry, error) {
	e := models.SecureEntry{ContainerID: containerID, KeyID: keyID}
	err := r.db.QueryRowContext(ctx,
		`SELECT name, value FROM secure_entries WHERE container_id = ? AND key_id = ?`,
		containerID, keyID).Scan(&e.Name, &e.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry", common.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get entry", err)
	}
	return &e, nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, containerID, keyID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM secure_entries WHERE container_id = ? AND key_id = ?`, containerID, keyID)
	if err != nil {
		return storageErr("delete entry", err)
	}
	return nil
}

func (r *SQLiteRepository) List(ctx context.Context, containerID string) ([]models.SecureEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key_id, name, value FROM secure_entries WHERE container_id = ? ORDER BY key_id`, containerID)
	if err != nil {
		return nil, storageErr("list entries", err)
	}
	defer rows.Close()

	result := []models.SecureEntry{}
	for rows.Next() {
		e := models.SecureEntry{ContainerID: containerID}
		if err := rows.Scan(&e.KeyID, &e.Name, &e.Value); err != nil {
			return nil, storageErr("scan entry row", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate entry rows", err)
	}
	return result, nil
}

func (r *SQLiteRepository) Clear(ctx context.Context, containerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM secure_entries WHERE container_id = ?`, containerID)
	if err != nil {
		return storageErr("clear entries", err)
	}
	return nil
}

func (r *SQLiteRepository) Count(ctx context.Context, containerID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM secure_entries WHERE container_id = ?`, containerID).Scan(&n)
	if err != nil {
		return 0, storageErr("count entries", err)
	}
	return n, nil
}

// asStorageErr keeps classified errors from inside a transaction and marks
// begin/commit failures as storage errors.
func asStorageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrStorageIO) || errors.Is(err, common.ErrNotFound) || errors.Is(err, common.ErrInvalidArgument) {
		return err
	}
	return storageErr(op, err)
}

package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/digkill/ProduktStudio/internal/database"
)

type KVRepository struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewKVRepository(db *sql.DB, dialect database.Dialect) *KVRepository {
	return &KVRepository{db: db, dialect: dialect}
}

func (r *KVRepository) Get(ctx context.Context, key string) (string, bool, error) {
	const query = `SELECT v FROM kv_entries WHERE k = ?`
	row := r.db.QueryRowContext(ctx, query, key)
	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get kv entry: %w", err)
	}
	return value, true, nil
}

func (r *KVRepository) Set(ctx context.Context, key, value string) error {
	query := `
INSERT INTO kv_entries (k, v) VALUES (?, ?)
ON DUPLICATE KEY UPDATE v = VALUES(v), updated_at = NOW()`
	if r.dialect == database.DialectSQLite {
		query = `
INSERT INTO kv_entries (k, v) VALUES (?, ?)
ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = CURRENT_TIMESTAMP`
	}
	if _, err := r.db.ExecContext(ctx, query, key, value); err != nil {
		return fmt.Errorf("upsert kv entry: %w", err)
	}
	return nil
}

func (r *KVRepository) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM kv_entries WHERE k = ?`
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("delete kv entry: %w", err)
	}
	return nil
}

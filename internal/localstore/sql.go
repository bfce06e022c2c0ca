package localstore

import (
	"context"
	"database/sql"

	"github.com/digkill/ProduktStudio/internal/database"
	"github.com/digkill/ProduktStudio/internal/repository"
)

// SQLStore backs the store with a kv_entries table in MySQL or SQLite.
type SQLStore struct {
	db   *sql.DB
	repo *repository.KVRepository
}

func NewSQLStore(db *sql.DB, dialect database.Dialect) *SQLStore {
	return &SQLStore{db: db, repo: repository.NewKVRepository(db, dialect)}
}

// DB exposes the connection so the generation journal can share it.
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

func (s *SQLStore) Get(ctx context.Context, key string) (string, bool, error) {
	return s.repo.Get(ctx, key)
}

func (s *SQLStore) Set(ctx context.Context, key, value string) error {
	return s.repo.Set(ctx, key, value)
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	return s.repo.Delete(ctx, key)
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

package localstore

import (
	"context"
	"fmt"

	"github.com/digkill/ProduktStudio/internal/config"
	"github.com/digkill/ProduktStudio/internal/database"
)

// Open builds the store selected by cfg.StoreDriver. SQL drivers are
// migrated before use.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.StoreDriver {
	case config.StoreFile, "":
		return NewFileStore(cfg.StorePath)
	case config.StoreMemory:
		return NewMemoryStore(), nil
	case config.StoreRedis:
		store := NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisPrefix)
		if err := store.Ping(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	case config.StoreMySQL:
		return openSQL(ctx, database.DialectMySQL, cfg.MySQLDSN)
	case config.StoreSQLite:
		return openSQL(ctx, database.DialectSQLite, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}

func openSQL(ctx context.Context, dialect database.Dialect, dsn string) (*SQLStore, error) {
	db, err := database.Connect(ctx, dialect, dsn)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLStore(db, dialect), nil
}

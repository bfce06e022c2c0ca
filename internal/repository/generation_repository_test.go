package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/digkill/ProduktStudio/internal/database"
	"github.com/digkill/ProduktStudio/internal/models"
)

func newSQLite(t *testing.T) *GenerationRepository {
	t.Helper()
	ctx := context.Background()
	db, err := database.Connect(ctx, database.DialectSQLite, filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DialectSQLite))
	return NewGenerationRepository(db)
}

func TestGenerationRepositoryLogAndList(t *testing.T) {
	ctx := context.Background()
	repo := newSQLite(t)

	older := time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	first := &models.GenerationRecord{Prompt: "a red chair", AspectRatio: "1:1", Images: 1, CreditsAfter: 99, CreatedAt: older}
	second := &models.GenerationRecord{Prompt: "a blue lamp", AspectRatio: "16:9", Images: 2, CreditsAfter: 97}
	require.NoError(t, repo.Log(ctx, first))
	require.NoError(t, repo.Log(ctx, second))
	require.NotEmpty(t, first.ID)
	require.NotEqual(t, first.ID, second.ID)

	records, err := repo.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a blue lamp", records[0].Prompt)
	require.Equal(t, 2, records[0].Images)
	require.Equal(t, 97, records[0].CreditsAfter)
	require.Equal(t, "a red chair", records[1].Prompt)

	records, err = repo.ListRecent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
}

func TestKVRepositoryUpsertSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := database.Connect(ctx, database.DialectSQLite, filepath.Join(t.TempDir(), "kv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.Migrate(ctx, db, database.DialectSQLite))

	repo := NewKVRepository(db, database.DialectSQLite)
	require.NoError(t, repo.Set(ctx, "k", "1"))
	require.NoError(t, repo.Set(ctx, "k", "2"))
	v, ok, err := repo.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", v)
}

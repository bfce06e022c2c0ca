package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/digkill/ProduktStudio/internal/localstore"
)

// countingStore records how often the credits key is written.
type countingStore struct {
	*localstore.MemoryStore
	sets   int
	getErr error
}

func (c *countingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if c.getErr != nil {
		return "", false, c.getErr
	}
	return c.MemoryStore.Get(ctx, key)
}

func (c *countingStore) Set(ctx context.Context, key, value string) error {
	c.sets++
	return c.MemoryStore.Set(ctx, key, value)
}

func TestGetCreditsInitializesOnce(t *testing.T) {
	ctx := context.Background()
	kv := &countingStore{MemoryStore: localstore.NewMemoryStore()}
	store := NewStore(kv, 100, nil)

	balance, err := store.GetCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, balance)
	require.Equal(t, 1, kv.sets)

	raw, ok, err := kv.MemoryStore.Get(ctx, localstore.KeyCredits)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "100", raw)

	balance, err = store.GetCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, balance)
	require.Equal(t, 1, kv.sets, "second read must not reinitialize")
}

func TestGetCreditsReturnsPersistedValue(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, localstore.KeyCredits, "7"))

	balance, err := NewStore(kv, 100, nil).GetCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, 7, balance)
}

func TestGetCreditsResetsGarbage(t *testing.T) {
	ctx := context.Background()
	kv := localstore.NewMemoryStore()
	require.NoError(t, kv.Set(ctx, localstore.KeyCredits, "lots"))

	balance, err := NewStore(kv, 100, nil).GetCredits(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, balance)
}

func TestDeductCreditsNeverNegative(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name    string
		current int
		amount  int
		want    int
	}{
		{name: "plain deduction", current: 10, amount: 3, want: 7},
		{name: "exact balance", current: 4, amount: 4, want: 0},
		{name: "overdraw floors at zero", current: 2, amount: 5, want: 0},
		{name: "zero amount", current: 5, amount: 0, want: 5},
		{name: "already empty", current: 0, amount: 1, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewStore(localstore.NewMemoryStore(), 100, nil)
			require.NoError(t, store.SetCredits(ctx, tt.current))

			got, err := store.DeductCredits(ctx, tt.amount)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
			require.GreaterOrEqual(t, got, 0)

			persisted, err := store.GetCredits(ctx)
			require.NoError(t, err)
			require.Equal(t, tt.want, persisted)
		})
	}
}

func TestDeductCreditsRejectsNegativeAmount(t *testing.T) {
	store := NewStore(localstore.NewMemoryStore(), 100, nil)
	_, err := store.DeductCredits(context.Background(), -1)
	require.ErrorIs(t, err, ErrInvalidAmount)
	require.ErrorIs(t, store.SetCredits(context.Background(), -5), ErrInvalidAmount)
}

func TestDeductCreditsOnFreshStoreStartsFromAllowance(t *testing.T) {
	store := NewStore(localstore.NewMemoryStore(), 100, nil)
	got, err := store.DeductCredits(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 99, got)
}

func TestHasCredits(t *testing.T) {
	ctx := context.Background()
	store := NewStore(localstore.NewMemoryStore(), 3, nil)

	ok, balance, err := store.HasCredits(ctx, 3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 3, balance)

	ok, _, err = store.HasCredits(ctx, 4)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreditsSurfaceStoreErrors(t *testing.T) {
	boom := errors.New("disk gone")
	store := NewStore(&countingStore{MemoryStore: localstore.NewMemoryStore(), getErr: boom}, 100, nil)
	_, err := store.GetCredits(context.Background())
	require.ErrorIs(t, err, boom)
}

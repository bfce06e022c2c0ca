// Package credits implements the local credit ledger used when the studio
// talks to the generative provider directly.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/digkill/ProduktStudio/internal/localstore"
)

const DefaultStartingCredits = 100

var ErrInvalidAmount = errors.New("credit amount must not be negative")

// Store is the local credit counter. Mutations within one process are
// serialized; across processes the persisted value is last-write-wins.
type Store struct {
	mu       sync.Mutex
	kv       localstore.Store
	starting int
	log      *slog.Logger
}

func NewStore(kv localstore.Store, starting int, log *slog.Logger) *Store {
	if starting < 0 {
		starting = DefaultStartingCredits
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{kv: kv, starting: starting, log: log}
}

// GetCredits returns the persisted balance, initializing it to the starting
// allowance on first use.
func (s *Store) GetCredits(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current(ctx)
}

// DeductCredits subtracts amount, flooring at zero, and returns the new
// balance.
func (s *Store) DeductCredits(ctx context.Context, amount int) (int, error) {
	if amount < 0 {
		return 0, ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.current(ctx)
	if err != nil {
		return 0, err
	}
	next := max(0, current-amount)
	if err := s.persist(ctx, next); err != nil {
		return 0, err
	}
	s.log.Debug("credits deducted", "amount", amount, "balance", next)
	return next, nil
}

// SetCredits overwrites the balance.
func (s *Store) SetCredits(ctx context.Context, amount int) error {
	if amount < 0 {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persist(ctx, amount)
}

// HasCredits reports whether the balance covers cost, along with the balance.
func (s *Store) HasCredits(ctx context.Context, cost int) (bool, int, error) {
	balance, err := s.GetCredits(ctx)
	if err != nil {
		return false, 0, err
	}
	return balance >= cost, balance, nil
}

func (s *Store) current(ctx context.Context) (int, error) {
	raw, ok, err := s.kv.Get(ctx, localstore.KeyCredits)
	if err != nil {
		return 0, fmt.Errorf("read credits: %w", err)
	}
	if ok {
		value, convErr := strconv.Atoi(raw)
		if convErr == nil && value >= 0 {
			return value, nil
		}
		s.log.Warn("stored credits unreadable, resetting", "value", raw)
	}
	if err := s.persist(ctx, s.starting); err != nil {
		return 0, err
	}
	return s.starting, nil
}

func (s *Store) persist(ctx context.Context, value int) error {
	if err := s.kv.Set(ctx, localstore.KeyCredits, strconv.Itoa(value)); err != nil {
		return fmt.Errorf("write credits: %w", err)
	}
	return nil
}

// Package localstore persists the small amount of client state the studio
// keeps between runs: the bearer token, the local credit counter and the
// provider API key.
package localstore

import (
	"context"
	"errors"
)

// Well-known keys.
const (
	KeyToken   = "token"
	KeyCredits = "produktai_credits"
	KeyAPIKey  = "gemini_api_key"
)

var ErrClosed = errors.New("local store closed")

// Store is a string key-value store. Writes are last-write-wins; no driver
// coordinates concurrent writers from other processes.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

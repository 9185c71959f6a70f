// Package store persists the auth token and last-known identity snapshot
// across process restarts. The pair is the only client state that survives a
// restart and is always replaced or cleared atomically.
package store

import (
	"context"
	"errors"

	"github.com/sitwo-project/clinic-portal/internal/model"
)

// Storage keys, shared by all backends.
const (
	KeyToken    = "auth_token"
	KeyIdentity = "user_data"
)

// ErrNoCredentials is returned by Load when nothing is persisted.
var ErrNoCredentials = errors.New("no stored credentials")

// Store is the persistent token/identity store.
type Store interface {
	Load(ctx context.Context) (*model.Credentials, error)
	Save(ctx context.Context, creds *model.Credentials) error
	Clear(ctx context.Context) error
}

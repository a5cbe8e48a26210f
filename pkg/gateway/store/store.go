// Package store persists interview users and sessions as JSON documents.
package store

import (
	"context"
	"errors"

	"github.com/avirahq/interviewd/pkg/core/types"
)

// ErrNotFound is returned when the requested document does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the document store behind the gateway. UpdateUser is the only
// compound operation: it applies mutate atomically and returns the
// post-image, so read-check-write races (notably the daily quota reset)
// collapse into one serialized step.
type Store interface {
	GetUser(ctx context.Context, id string) (*types.User, error)
	PutUser(ctx context.Context, u *types.User) error
	UpdateUser(ctx context.Context, id string, mutate func(*types.User) error) (*types.User, error)

	GetSession(ctx context.Context, id string) (*types.Session, error)
	PutSession(ctx context.Context, s *types.Session) error

	Close() error
}

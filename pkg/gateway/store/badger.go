package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/avirahq/interviewd/pkg/core/types"
)

const (
	userPrefix    = "user:"
	sessionPrefix = "session:"
)

// Badger is a Store backed by BadgerDB v4.
type Badger struct {
	db *badger.DB
}

// BadgerOptions configures the BadgerDB store.
type BadgerOptions struct {
	// Dir is the directory for BadgerDB data files. Required unless
	// InMemory is set.
	Dir string

	// InMemory runs BadgerDB without disk persistence. Useful for tests and
	// dev mode with a real badger engine.
	InMemory bool

	// Logger sets the badger logger. Nil silences badger output.
	Logger badger.Logger
}

// NewBadger opens a BadgerDB-backed store.
func NewBadger(opts BadgerOptions) (*Badger, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("store: BadgerOptions.Dir is required for on-disk mode")
	}
	dbOpts := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	dbOpts = dbOpts.WithLogger(opts.Logger)
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}
	return &Badger{db: db}, nil
}

func (b *Badger) get(key string, v any) error {
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	return err
}

func (b *Badger) put(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *Badger) GetUser(_ context.Context, id string) (*types.User, error) {
	var u types.User
	if err := b.get(userPrefix+id, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (b *Badger) PutUser(_ context.Context, u *types.User) error {
	return b.put(userPrefix+u.ID, u)
}

// UpdateUser runs mutate inside a single read-modify-write transaction and
// retries on commit conflicts, so the returned post-image is exactly what
// was committed.
func (b *Badger) UpdateUser(ctx context.Context, id string, mutate func(*types.User) error) (*types.User, error) {
	for {
		u, err := b.updateUserOnce(id, mutate)
		if errors.Is(err, badger.ErrConflict) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		return u, err
	}
}

func (b *Badger) updateUserOnce(id string, mutate func(*types.User) error) (*types.User, error) {
	var updated *types.User
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(userPrefix + id))
		if err != nil {
			return err
		}
		var u types.User
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &u)
		}); err != nil {
			return err
		}
		if err := mutate(&u); err != nil {
			return err
		}
		data, err := json.Marshal(&u)
		if err != nil {
			return err
		}
		if err := txn.Set([]byte(userPrefix+id), data); err != nil {
			return err
		}
		updated = &u
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (b *Badger) GetSession(_ context.Context, id string) (*types.Session, error) {
	var s types.Session
	if err := b.get(sessionPrefix+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (b *Badger) PutSession(_ context.Context, s *types.Session) error {
	return b.put(sessionPrefix+s.ID, s)
}

func (b *Badger) Close() error {
	return b.db.Close()
}

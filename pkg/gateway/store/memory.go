package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/avirahq/interviewd/pkg/core/types"
)

// Memory is an in-process Store for tests. Documents are kept as JSON so
// callers can never alias stored state.
type Memory struct {
	mu       sync.Mutex
	users    map[string][]byte
	sessions map[string][]byte
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:    make(map[string][]byte),
		sessions: make(map[string][]byte),
	}
}

func (m *Memory) GetUser(_ context.Context, id string) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	var u types.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (m *Memory) PutUser(_ context.Context, u *types.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = data
	return nil
}

func (m *Memory) UpdateUser(_ context.Context, id string, mutate func(*types.User) error) (*types.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	var u types.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	if err := mutate(&u); err != nil {
		return nil, err
	}
	out, err := json.Marshal(&u)
	if err != nil {
		return nil, err
	}
	m.users[id] = out
	return &u, nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*types.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	var s types.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Memory) PutSession(_ context.Context, s *types.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = data
	return nil
}

func (m *Memory) Close() error { return nil }

// Package balance persists player cash between sessions. Rooms never call a
// Store directly: balances are read once at join and every later change is
// queued on a Ledger.
package balance

import (
	"context"
	"errors"
	"sync"
)

var ErrUnknownAccount = errors.New("unknown account")

// Store is the authoritative balance of each identity, in the smallest
// currency unit.
type Store interface {
	// GetBalance returns the balance of identity, opening the account with
	// initial if it does not exist yet.
	GetBalance(ctx context.Context, identity string, initial int64) (int64, error)
	// ApplyDelta adds delta to the balance and returns the new balance.
	ApplyDelta(ctx context.Context, identity string, delta int64) (int64, error)
}

// MemoryStore keeps balances in process memory.
type MemoryStore struct {
	mu       sync.Mutex
	accounts map[string]int64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]int64)}
}

func (m *MemoryStore) GetBalance(ctx context.Context, identity string, initial int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.accounts[identity]; ok {
		return bal, nil
	}
	m.accounts[identity] = initial
	return initial, nil
}

func (m *MemoryStore) ApplyDelta(ctx context.Context, identity string, delta int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bal, ok := m.accounts[identity]
	if !ok {
		return 0, ErrUnknownAccount
	}
	bal += delta
	m.accounts[identity] = bal
	return bal, nil
}

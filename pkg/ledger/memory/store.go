package memory

import (
	"context"
	"sync"
	"time"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	xsync "github.com/code-payments/tokenitis-server/pkg/sync"
)

const (
	lockStripes = 1024
)

type store struct {
	mu       sync.RWMutex
	accounts map[string]*ledger.Account

	locks *xsync.StripedLock
}

// New returns a new in memory ledger.Store
func New() ledger.Store {
	return &store{
		accounts: make(map[string]*ledger.Account),
		locks:    xsync.NewStripedLock(lockStripes),
	}
}

// Save implements ledger.Store.Save
func (s *store) Save(_ context.Context, account *ledger.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	unlock := s.locks.LockAll([]byte(account.Address))
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	account.LastUpdatedAt = time.Now()
	s.accounts[account.Address] = account.Clone()

	return nil
}

// Get implements ledger.Store.Get
func (s *store) Get(_ context.Context, address string) (*ledger.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if item, ok := s.accounts[address]; ok {
		return item.Clone(), nil
	}
	return nil, ledger.ErrAccountNotFound
}

// ExecuteInTx implements ledger.Store.ExecuteInTx
func (s *store) ExecuteInTx(ctx context.Context, addresses []string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	keys := make([][]byte, len(addresses))
	for i, address := range addresses {
		keys[i] = []byte(address)
	}

	unlock := s.locks.LockAll(keys...)
	defer unlock()

	t := newTx(s, addresses)
	err := fn(ctx, t)
	staged := t.close()
	if err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for address, account := range staged {
		account.LastUpdatedAt = now
		s.accounts[address] = account
	}

	return nil
}

func (s *store) getCommitted(address string) (*ledger.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.accounts[address]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

func (s *store) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.accounts = make(map[string]*ledger.Account)
}

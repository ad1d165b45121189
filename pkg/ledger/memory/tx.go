package memory

import (
	"context"
	"sync"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
)

type tx struct {
	s *store

	mu     sync.Mutex
	locked map[string]struct{}
	staged map[string]*ledger.Account
	closed bool
}

func newTx(s *store, addresses []string) *tx {
	locked := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		locked[address] = struct{}{}
	}

	return &tx{
		s:      s,
		locked: locked,
		staged: make(map[string]*ledger.Account),
	}
}

// Get implements ledger.Tx.Get
func (t *tx) Get(_ context.Context, address string) (*ledger.Account, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ledger.ErrTxClosed
	}
	if _, ok := t.locked[address]; !ok {
		return nil, ledger.ErrAccountNotLocked
	}

	if staged, ok := t.staged[address]; ok {
		return staged.Clone(), nil
	}

	committed, ok := t.s.getCommitted(address)
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return committed, nil
}

// Stage implements ledger.Tx.Stage
func (t *tx) Stage(_ context.Context, account *ledger.Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ledger.ErrTxClosed
	}
	if _, ok := t.locked[account.Address]; !ok {
		return ledger.ErrAccountNotLocked
	}

	t.staged[account.Address] = account.Clone()
	return nil
}

func (t *tx) close() map[string]*ledger.Account {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.closed = true
	return t.staged
}

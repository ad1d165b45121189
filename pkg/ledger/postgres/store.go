package postgres

import (
	"context"
	"database/sql"
	"sort"
	"sync"

	"github.com/jmoiron/sqlx"

	pgutil "github.com/code-payments/tokenitis-server/pkg/database/postgres"
	"github.com/code-payments/tokenitis-server/pkg/ledger"
)

type store struct {
	db *sqlx.DB
}

// New returns a new postgres-backed ledger.Store
func New(db *sql.DB) ledger.Store {
	return &store{
		db: sqlx.NewDb(db, "pgx"),
	}
}

// Save implements ledger.Store.Save
func (s *store) Save(ctx context.Context, account *ledger.Account) error {
	model, err := toModel(account)
	if err != nil {
		return err
	}

	err = pgutil.ExecuteRetryable(func() error {
		return model.dbSave(ctx, s.db)
	})
	if err != nil {
		return err
	}

	res := fromModel(model)
	res.CopyTo(account)

	return nil
}

// Get implements ledger.Store.Get
func (s *store) Get(ctx context.Context, address string) (*ledger.Account, error) {
	model, err := dbGetByAddress(ctx, s.db, address)
	if err != nil {
		return nil, err
	}

	return fromModel(model), nil
}

// ExecuteInTx implements ledger.Store.ExecuteInTx
func (s *store) ExecuteInTx(ctx context.Context, addresses []string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	err := pgutil.ExecuteTxWithinCtx(ctx, s.db, sql.LevelReadCommitted, func(ctx context.Context) error {
		return pgutil.ExecuteInTx(ctx, s.db, sql.LevelReadCommitted, func(sqlTx *sqlx.Tx) error {
			if err := dbLockAddresses(ctx, sqlTx, addresses...); err != nil {
				return err
			}

			t := newTx(sqlTx, addresses)
			if err := fn(ctx, t); err != nil {
				t.close()
				return err
			}

			staged := t.close()

			sortedAddresses := make([]string, 0, len(staged))
			for address := range staged {
				sortedAddresses = append(sortedAddresses, address)
			}
			sort.Strings(sortedAddresses)

			for _, address := range sortedAddresses {
				model, err := toModel(staged[address])
				if err != nil {
					return err
				}
				if err := model.dbUpsert(ctx, sqlTx); err != nil {
					return err
				}
			}

			return nil
		})
	})
	return pgutil.CheckRetryableTxError(err, ledger.ErrConflict)
}

type tx struct {
	sqlTx *sqlx.Tx

	mu     sync.Mutex
	locked map[string]struct{}
	staged map[string]*ledger.Account
	closed bool
}

func newTx(sqlTx *sqlx.Tx, addresses []string) *tx {
	locked := make(map[string]struct{}, len(addresses))
	for _, address := range addresses {
		locked[address] = struct{}{}
	}

	return &tx{
		sqlTx:  sqlTx,
		locked: locked,
		staged: make(map[string]*ledger.Account),
	}
}

// Get implements ledger.Tx.Get
func (t *tx) Get(ctx context.Context, address string) (*ledger.Account, error) {
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

	model, err := dbGetByAddress(ctx, t.sqlTx, address)
	if err != nil {
		return nil, err
	}
	return fromModel(model), nil
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

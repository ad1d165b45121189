package ledger

import (
	"context"
)

type Store interface {
	// Save creates or replaces an account outside of any ledger transaction.
	// It is used to provision accounts.
	Save(ctx context.Context, account *Account) error

	// Get gets the latest committed state of an account.
	//
	// ErrAccountNotFound is returned if the account doesn't exist.
	Get(ctx context.Context, address string) (*Account, error)

	// ExecuteInTx locks every provided address for the duration of fn. Writes
	// staged through the Tx are applied atomically only if fn returns nil.
	// Otherwise, nothing is written.
	//
	// ErrConflict may be returned when the transaction could not be
	// serialized with a concurrent one, in which case it is safe to retry.
	ExecuteInTx(ctx context.Context, addresses []string, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a view of the ledger scoped to a set of locked addresses.
type Tx interface {
	// Get gets the state of a locked account, including writes staged earlier
	// in the transaction.
	//
	// ErrAccountNotFound is returned if the account doesn't exist.
	// ErrAccountNotLocked is returned if the address isn't part of the tx.
	Get(ctx context.Context, address string) (*Account, error)

	// Stage records a write to a locked account, applied on commit.
	//
	// ErrAccountNotLocked is returned if the address isn't part of the tx.
	Stage(ctx context.Context, account *Account) error
}

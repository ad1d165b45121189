package ledger

import (
	"time"

	"github.com/pkg/errors"

	"github.com/code-payments/tokenitis-server/pkg/solana"
)

var (
	ErrAccountNotFound  = errors.New("account not found")
	ErrInvalidAccount   = errors.New("invalid account")
	ErrAccountNotLocked = errors.New("account is not locked by the transaction")
	ErrConflict         = errors.New("conflicting ledger transaction")
	ErrTxClosed         = errors.New("ledger transaction is closed")
)

// Account is the durable state of a ledger address. Data is owned and
// interpreted exclusively by the Owner program.
type Account struct {
	Address string
	Owner   string
	Data    []byte

	LastUpdatedAt time.Time
}

func (a *Account) Validate() error {
	if _, err := solana.PublicKeyFromString(a.Address); err != nil {
		return errors.Wrap(ErrInvalidAccount, "invalid address")
	}
	if _, err := solana.PublicKeyFromString(a.Owner); err != nil {
		return errors.Wrap(ErrInvalidAccount, "invalid owner")
	}
	return nil
}

func (a *Account) Clone() *Account {
	var data []byte
	if a.Data != nil {
		data = make([]byte, len(a.Data))
		copy(data, a.Data)
	}

	return &Account{
		Address:       a.Address,
		Owner:         a.Owner,
		Data:          data,
		LastUpdatedAt: a.LastUpdatedAt,
	}
}

func (a *Account) CopyTo(dst *Account) {
	cloned := a.Clone()

	dst.Address = cloned.Address
	dst.Owner = cloned.Owner
	dst.Data = cloned.Data
	dst.LastUpdatedAt = cloned.LastUpdatedAt
}

package registry

import (
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

// NewStateAccount returns an uninitialized transform state account owned by
// the registry, with enough space for the record described by args.
func NewStateAccount(address ed25519.PublicKey, args *tokenitis.CreateTransformInstructionArgs) *ledger.Account {
	size := tokenitis.GetTransformAccountSize(args.Metadata, args.Inputs, args.Outputs)

	return &ledger.Account{
		Address: base58.Encode(address),
		Owner:   base58.Encode(tokenitis.PROGRAM_ID),
		Data:    make([]byte, size),
	}
}

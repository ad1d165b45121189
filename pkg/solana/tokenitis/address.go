package tokenitis

import (
	"crypto/ed25519"

	"github.com/code-payments/tokenitis-server/pkg/solana"
)

var (
	CustodianSeed = []byte("tokenitis")
)

// GetCustodianAddress derives the keyless authority that holds custody of
// every asset account locked into a transform of the program.
func GetCustodianAddress(program ed25519.PublicKey) (ed25519.PublicKey, uint8, error) {
	return solana.FindProgramAddressAndBump(program, CustodianSeed)
}

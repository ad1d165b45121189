package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/tokenitis-server/pkg/runtime"
	"github.com/code-payments/tokenitis-server/pkg/solana/token"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

type createTransformAccounts struct {
	tokenProgram *runtime.AccountInfo
	state        *runtime.AccountInfo
	initializer  *runtime.AccountInfo

	// Inputs first, then outputs. Positional only; mints are not read.
	assets []*runtime.AccountInfo
}

// bindCreateTransformAccounts validates the account list against the recipe
// size and assigns every account a role.
func bindCreateTransformAccounts(programID ed25519.PublicKey, accounts []*runtime.AccountInfo, args *tokenitis.CreateTransformInstructionArgs) (*createTransformAccounts, error) {
	expected := tokenitis.CreateTransformInstructionFixedAccounts + args.NumAssetAccounts()
	if len(accounts) < expected {
		return nil, errors.Wrapf(tokenitis.ErrorMissingAccount, "expected %d accounts, got %d", expected, len(accounts))
	}
	if len(accounts) > expected {
		return nil, errors.Wrapf(tokenitis.ErrorUnexpectedAccount, "expected %d accounts, got %d", expected, len(accounts))
	}

	bound := &createTransformAccounts{
		tokenProgram: accounts[0],
		state:        accounts[1],
		initializer:  accounts[2],
		assets:       accounts[tokenitis.CreateTransformInstructionFixedAccounts:],
	}

	if !bytes.Equal(bound.tokenProgram.Key, tokenitis.SPL_TOKEN_PROGRAM_ID) {
		return nil, errors.Wrapf(tokenitis.ErrorIncorrectProgramID, "unexpected token program %s", bound.tokenProgram.Address())
	}
	if !bound.state.IsOwnedBy(programID) {
		return nil, errors.Wrapf(tokenitis.ErrorInvalidStateAccount, "state account %s is not owned by the program", bound.state.Address())
	}
	if !bound.state.IsWritable {
		return nil, errors.Wrap(tokenitis.ErrorInvalidStateAccount, "state account is not writable")
	}

	return bound, nil
}

// processCreateTransform registers a transform. Every asset account is
// placed under the custodian before the record is written, and any failure
// leaves the ledger untouched since the runtime discards all writes of a
// failed transaction.
func (p *processor) processCreateTransform(ctx context.Context, ic *runtime.InvocationContext, programID ed25519.PublicKey, accounts []*runtime.AccountInfo, data []byte) error {
	log := p.log.WithField("method", "processCreateTransform")

	args, err := tokenitis.UnmarshalCreateTransformInstructionArgs(data)
	if err != nil {
		log.WithError(err).Debug("invalid instruction data")
		return tokenitis.NewSerializationError("instruction data", err)
	}

	bound, err := bindCreateTransformAccounts(programID, accounts, args)
	if err != nil {
		log.WithError(err).Debug("invalid accounts")
		return err
	}

	log = log.WithFields(logrus.Fields{
		"state":       bound.state.Address(),
		"initializer": bound.initializer.Address(),
		"inputs":      len(args.Inputs),
		"outputs":     len(args.Outputs),
	})

	if err := tokenitis.ValidateRecipe(args.Inputs, args.Outputs); err != nil {
		log.WithError(err).Debug("invalid recipe")
		return err
	}

	if !bound.initializer.IsSigner {
		return errors.Wrapf(tokenitis.ErrorMissingRequiredSignature, "initializer %s did not sign", bound.initializer.Address())
	}

	// The token program cannot write the state account, so the record read
	// here is the one the commit below would overwrite.
	var existing tokenitis.TransformAccount
	if err := existing.Unmarshal(bound.state.Data); err != nil {
		log.WithError(err).Debug("invalid state account data")
		return tokenitis.NewSerializationError("state account", err)
	}
	if existing.Initialized {
		log.Debug("transform already initialized")
		return tokenitis.ErrorAlreadyInitialized
	}

	custodian, err := p.getCustodian(programID)
	if err != nil {
		return errors.Wrap(err, "error deriving custodian")
	}

	for i, asset := range bound.assets {
		ix := token.SetAuthority(
			asset.Key,
			bound.initializer.Key,
			custodian,
			token.AuthorityTypeAccountHolder,
		)

		if err := ic.Invoke(ctx, ix); err != nil {
			log.WithError(err).WithFields(logrus.Fields{
				"index":   i,
				"account": asset.Address(),
			}).Debug("custody transfer failed")

			return &tokenitis.CustodyTransferError{
				Index:   i,
				Account: asset.Key,
				Err:     err,
			}
		}
	}

	record := tokenitis.NewTransformAccount(args.Metadata, args.Inputs, args.Outputs)
	if err := record.MarshalInto(bound.state.Data); err != nil {
		log.WithError(err).Debug("record does not fit state account")
		return tokenitis.NewSerializationError("state account", err)
	}

	log.WithField("custodian", base58.Encode(custodian)).Info("transform created")
	return nil
}

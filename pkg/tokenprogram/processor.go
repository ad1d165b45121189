package tokenprogram

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/tokenitis-server/pkg/runtime"
	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/token"
)

type processor struct {
	log *logrus.Entry
}

// New returns a runtime.Program implementing the subset of the SPL token
// program used to move custody of token accounts.
func New() runtime.Program {
	return &processor{
		log: logrus.StandardLogger().WithField("program", "token"),
	}
}

// Process implements runtime.Program.Process
func (p *processor) Process(ctx context.Context, ic *runtime.InvocationContext, programID ed25519.PublicKey, accounts []*runtime.AccountInfo, data []byte) error {
	if !bytes.Equal(programID, token.ProgramKey) {
		return solana.InstructionErrorIncorrectProgramID
	}

	command, err := token.GetCommand(data)
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	switch command {
	case token.CommandSetAuthority:
		return p.processSetAuthority(ctx, programID, accounts, data)
	default:
		return token.ErrorInvalidInstruction
	}
}

// Reference: https://github.com/solana-labs/solana-program-library/blob/b011698251981b5a12088acba18fad1d41c3719a/token/program/src/processor.rs#L349
func (p *processor) processSetAuthority(ctx context.Context, programID ed25519.PublicKey, accounts []*runtime.AccountInfo, data []byte) error {
	if len(accounts) < 2 {
		return solana.InstructionErrorNotEnoughAccountKeys
	}

	metas := make([]solana.AccountMeta, 2)
	for i, account := range accounts[:2] {
		metas[i] = solana.AccountMeta{
			PublicKey:  account.Key,
			IsSigner:   account.IsSigner,
			IsWritable: account.IsWritable,
		}
	}

	args, err := token.DecompileSetAuthority(solana.NewInstruction(programID, data, metas...))
	if err != nil {
		return token.ErrorInvalidInstruction
	}

	target := accounts[0]
	authority := accounts[1]

	log := p.log.WithFields(logrus.Fields{
		"method":         "processSetAuthority",
		"account":        target.Address(),
		"authority":      authority.Address(),
		"authority_type": args.Type,
	})

	if !target.IsOwnedBy(programID) {
		return solana.InstructionErrorIncorrectProgramID
	}
	if len(target.Data) != token.AccountSize {
		return solana.InstructionErrorInvalidAccountData
	}

	var state token.Account
	if !state.Unmarshal(target.Data) {
		return solana.InstructionErrorInvalidAccountData
	}
	if !state.IsInitialized() {
		return token.ErrorUninitializedState
	}
	if state.IsFrozen() {
		return token.ErrorAccountFrozen
	}

	switch args.Type {
	case token.AuthorityTypeAccountHolder:
		if err := validateOwner(state.Owner, authority); err != nil {
			return err
		}
		if len(args.NewAuthority) == 0 {
			return token.ErrorInvalidInstruction
		}

		state.Owner = args.NewAuthority
		state.Delegate = nil
		state.DelegatedAmount = 0
		if state.IsNativeToken() {
			state.CloseAuthority = nil
		}
	case token.AuthorityTypeCloseAccount:
		current := state.CloseAuthority
		if len(current) == 0 {
			current = state.Owner
		}
		if err := validateOwner(current, authority); err != nil {
			return err
		}

		state.CloseAuthority = args.NewAuthority
	default:
		return token.ErrorAuthorityTypeNotSupported
	}

	copy(target.Data, state.Marshal())

	if len(args.NewAuthority) > 0 {
		log = log.WithField("new_authority", base58.Encode(args.NewAuthority))
	}
	log.Trace("authority updated")

	return nil
}

func validateOwner(expected ed25519.PublicKey, authority *runtime.AccountInfo) error {
	if !bytes.Equal(expected, authority.Key) {
		return token.ErrorOwnerMismatch
	}
	if !authority.IsSigner {
		return solana.InstructionErrorMissingRequiredSignature
	}
	return nil
}

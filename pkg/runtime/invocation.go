package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"

	"github.com/code-payments/tokenitis-server/pkg/solana"
)

// AccountInfo is an account as seen by an executing program.
type AccountInfo struct {
	Key        ed25519.PublicKey
	Owner      ed25519.PublicKey
	Data       []byte
	IsSigner   bool
	IsWritable bool
}

func (a *AccountInfo) Address() string {
	return base58.Encode(a.Key)
}

// IsOwnedBy reports whether program owns the account.
func (a *AccountInfo) IsOwnedBy(program ed25519.PublicKey) bool {
	return len(a.Owner) > 0 && bytes.Equal(a.Owner, program)
}

type transactionContext struct {
	runtime  *Runtime
	accounts map[string]*transactionAccount
	maxDepth int
}

// InvocationContext is the execution frame of a single program invocation.
type InvocationContext struct {
	tc *transactionContext

	programID ed25519.PublicKey
	depth     int

	// Unique accounts passed to the program, in first seen order.
	accounts []*AccountInfo
}

// Depth is 1 for top level instructions and increases by one for every
// nested invocation.
func (ic *InvocationContext) Depth() int {
	return ic.depth
}

// Invoke executes ix as a nested invocation of the calling program.
//
// Every account referenced by ix, as well as the invoked program itself,
// must have been passed to the caller. Writable accounts must be writable
// for the caller. Signer accounts must either be signers for the caller, or
// be the program address derived from the caller's program id and one of
// the provided seed sets.
//
// Changes the caller made to its accounts are visible to the callee, and
// changes made by the callee are reflected in the caller's AccountInfo
// values once Invoke returns.
func (ic *InvocationContext) Invoke(ctx context.Context, ix solana.Instruction, signerSeeds ...[][]byte) error {
	if ic.depth+1 > ic.tc.maxDepth {
		return solana.InstructionErrorCallDepth
	}

	if ic.find(ix.Program) == nil {
		return solana.InstructionErrorMissingAccount
	}

	pdaSigners := make([]ed25519.PublicKey, 0, len(signerSeeds))
	for _, seeds := range signerSeeds {
		pda, err := solana.CreateProgramAddress(ic.programID, seeds...)
		if err != nil {
			return solana.InstructionErrorInvalidSeeds
		}
		pdaSigners = append(pdaSigners, pda)
	}

	for _, meta := range ix.Accounts {
		callerAccount := ic.find(meta.PublicKey)
		if callerAccount == nil {
			return solana.InstructionErrorMissingAccount
		}

		if meta.IsWritable && !callerAccount.IsWritable {
			return solana.InstructionErrorPrivilegeEscalation
		}

		if meta.IsSigner && !callerAccount.IsSigner && !containsKey(pdaSigners, meta.PublicKey) {
			return solana.InstructionErrorPrivilegeEscalation
		}
	}

	if err := ic.commit(); err != nil {
		return err
	}

	if err := ic.tc.processInstruction(ctx, ix, ic.depth+1); err != nil {
		return err
	}

	ic.refresh()
	return nil
}

func (ic *InvocationContext) find(key ed25519.PublicKey) *AccountInfo {
	for _, account := range ic.accounts {
		if bytes.Equal(account.Key, key) {
			return account
		}
	}
	return nil
}

// commit verifies the program only changed accounts it was allowed to, and
// applies the changes to the transaction state.
func (ic *InvocationContext) commit() error {
	for _, info := range ic.accounts {
		account := ic.tc.accounts[info.Address()]

		if !bytes.Equal(info.Owner, account.owner) {
			return solana.InstructionErrorModifiedProgramID
		}

		if bytes.Equal(info.Data, account.data) {
			continue
		}

		if !info.IsOwnedBy(ic.programID) {
			return solana.InstructionErrorExternalAccountDataModified
		}
		if !info.IsWritable {
			return solana.InstructionErrorReadonlyDataModified
		}
		if len(info.Data) != len(account.data) {
			return solana.InstructionErrorAccountDataSizeChanged
		}

		account.data = cloneBytes(info.Data)
	}
	return nil
}

func (ic *InvocationContext) refresh() {
	for _, info := range ic.accounts {
		account := ic.tc.accounts[info.Address()]
		info.Owner = cloneBytes(account.owner)
		info.Data = cloneBytes(account.data)
	}
}

func (tc *transactionContext) processInstruction(ctx context.Context, ix solana.Instruction, depth int) error {
	program, ok := tc.runtime.getProgram(ix.Program)
	if !ok {
		return solana.InstructionErrorUnsupportedProgramID
	}

	ic := &InvocationContext{
		tc:        tc,
		programID: ix.Program,
		depth:     depth,
	}

	// Accounts referenced multiple times share a single AccountInfo with
	// the union of their privileges.
	infos := make([]*AccountInfo, len(ix.Accounts))
	for i, meta := range ix.Accounts {
		if existing := ic.find(meta.PublicKey); existing != nil {
			existing.IsSigner = existing.IsSigner || meta.IsSigner
			existing.IsWritable = existing.IsWritable || meta.IsWritable
			infos[i] = existing
			continue
		}

		account, ok := tc.accounts[base58.Encode(meta.PublicKey)]
		if !ok {
			return solana.InstructionErrorMissingAccount
		}

		info := &AccountInfo{
			Key:        account.key,
			Owner:      cloneBytes(account.owner),
			Data:       cloneBytes(account.data),
			IsSigner:   meta.IsSigner,
			IsWritable: meta.IsWritable,
		}
		ic.accounts = append(ic.accounts, info)
		infos[i] = info
	}

	if err := program.Process(ctx, ic, ix.Program, infos, ix.Data); err != nil {
		return err
	}

	return ic.commit()
}

func containsKey(keys []ed25519.PublicKey, key ed25519.PublicKey) bool {
	for _, candidate := range keys {
		if bytes.Equal(candidate, key) {
			return true
		}
	}
	return false
}

package runtime

import (
	"context"
	"crypto/ed25519"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	memory_ledger "github.com/code-payments/tokenitis-server/pkg/ledger/memory"
	"github.com/code-payments/tokenitis-server/pkg/solana"
)

type callerFunc func(ctx context.Context, ic *InvocationContext, programID ed25519.PublicKey, accounts []*AccountInfo) error

func (e *testEnv) registerCaller(t *testing.T, fn callerFunc) ed25519.PublicKey {
	programID := newPublicKey(t)
	require.NoError(t, e.runtime.RegisterProgram(programID, ProgramFunc(func(ctx context.Context, ic *InvocationContext, programID ed25519.PublicKey, accounts []*AccountInfo, _ []byte) error {
		return fn(ctx, ic, programID, accounts)
	})))
	return programID
}

// registerRecorder registers a program that captures the accounts it is
// invoked with.
func (e *testEnv) registerRecorder(t *testing.T) (ed25519.PublicKey, *[]AccountInfo) {
	programID := newPublicKey(t)
	var recorded []AccountInfo
	require.NoError(t, e.runtime.RegisterProgram(programID, ProgramFunc(func(_ context.Context, _ *InvocationContext, _ ed25519.PublicKey, accounts []*AccountInfo, _ []byte) error {
		recorded = recorded[:0]
		for _, account := range accounts {
			recorded = append(recorded, AccountInfo{
				Key:        account.Key,
				Owner:      append([]byte{}, account.Owner...),
				Data:       append([]byte{}, account.Data...),
				IsSigner:   account.IsSigner,
				IsWritable: account.IsWritable,
			})
		}
		return nil
	})))
	return programID, &recorded
}

func TestInvoke_CalleeWritesAreVisibleToCaller(t *testing.T) {
	env := setup(t, nil)

	callee, _ := env.registerDataProgram(t)
	target := env.saveAccount(t, callee, make([]byte, 2))

	var observed []byte
	caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, accounts []*AccountInfo) error {
		ix := solana.NewInstruction(callee, []byte{opWrite, 4, 2}, solana.NewAccountMeta(target, false))
		if err := ic.Invoke(ctx, ix); err != nil {
			return err
		}
		observed = append([]byte{}, accounts[1].Data...)
		return nil
	})

	err := env.submit(t, solana.NewInstruction(
		caller,
		nil,
		solana.NewReadonlyAccountMeta(callee, false),
		solana.NewAccountMeta(target, false),
	))
	require.NoError(t, err)

	assert.Equal(t, []byte{4, 2}, observed)
	assert.Equal(t, []byte{4, 2}, env.getData(t, target))
}

func TestInvoke_CallerWritesAreVisibleToCallee(t *testing.T) {
	env := setup(t, nil)

	recorder, recorded := env.registerRecorder(t)

	caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, accounts []*AccountInfo) error {
		accounts[1].Data[0] = 9
		return ic.Invoke(ctx, solana.NewInstruction(recorder, nil, solana.NewReadonlyAccountMeta(accounts[1].Key, false)))
	})
	owned := env.saveAccount(t, caller, make([]byte, 1))

	err := env.submit(t, solana.NewInstruction(
		caller,
		nil,
		solana.NewReadonlyAccountMeta(recorder, false),
		solana.NewAccountMeta(owned, false),
	))
	require.NoError(t, err)

	require.Len(t, *recorded, 1)
	assert.Equal(t, []byte{9}, (*recorded)[0].Data)
	assert.False(t, (*recorded)[0].IsWritable)
	assert.Equal(t, []byte{9}, env.getData(t, owned))
}

func TestInvoke_PrivilegeChecks(t *testing.T) {
	for _, tc := range []struct {
		name     string
		meta     func(account ed25519.PublicKey) solana.AccountMeta
		passed   func(account ed25519.PublicKey) solana.AccountMeta
		expected solana.InstructionErrorKey
	}{
		{
			name:     "writable escalation",
			meta:     func(account ed25519.PublicKey) solana.AccountMeta { return solana.NewAccountMeta(account, false) },
			passed:   func(account ed25519.PublicKey) solana.AccountMeta { return solana.NewReadonlyAccountMeta(account, false) },
			expected: solana.InstructionErrorPrivilegeEscalation,
		},
		{
			name:     "signer escalation",
			meta:     func(account ed25519.PublicKey) solana.AccountMeta { return solana.NewReadonlyAccountMeta(account, true) },
			passed:   func(account ed25519.PublicKey) solana.AccountMeta { return solana.NewReadonlyAccountMeta(account, false) },
			expected: solana.InstructionErrorPrivilegeEscalation,
		},
		{
			name:     "account not passed to caller",
			meta:     func(ed25519.PublicKey) solana.AccountMeta { return solana.NewReadonlyAccountMeta(newPublicKey(t), false) },
			passed:   func(account ed25519.PublicKey) solana.AccountMeta { return solana.NewReadonlyAccountMeta(account, false) },
			expected: solana.InstructionErrorMissingAccount,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			env := setup(t, nil)

			recorder, recorded := env.registerRecorder(t)
			account := newPublicKey(t)

			caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, _ []*AccountInfo) error {
				return ic.Invoke(ctx, solana.NewInstruction(recorder, nil, tc.meta(account)))
			})

			err := env.submit(t, solana.NewInstruction(
				caller,
				nil,
				solana.NewReadonlyAccountMeta(recorder, false),
				tc.passed(account),
			))
			require.Error(t, err)

			var ixErr *solana.InstructionError
			require.True(t, errors.As(err, &ixErr))
			assert.Equal(t, tc.expected, ixErr.ErrorKey())
			assert.Empty(t, *recorded)
		})
	}
}

func TestInvoke_ProgramNotPassedToCaller(t *testing.T) {
	env := setup(t, nil)

	recorder, recorded := env.registerRecorder(t)
	caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, _ []*AccountInfo) error {
		return ic.Invoke(ctx, solana.NewInstruction(recorder, nil))
	})

	err := env.submit(t, solana.NewInstruction(caller, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, solana.InstructionErrorMissingAccount))
	assert.Empty(t, *recorded)
}

func TestInvoke_ProgramDerivedSigner(t *testing.T) {
	env := setup(t, nil)

	recorder, recorded := env.registerRecorder(t)
	seed := []byte("authority")

	var callerID ed25519.PublicKey
	var pda ed25519.PublicKey
	var bump uint8
	var seeds [][]byte

	callerID = env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, _ []*AccountInfo) error {
		ix := solana.NewInstruction(recorder, nil, solana.NewReadonlyAccountMeta(pda, true))
		return ic.Invoke(ctx, ix, seeds)
	})

	var err error
	pda, bump, err = solana.FindProgramAddressAndBump(callerID, seed)
	require.NoError(t, err)

	submit := func() error {
		return env.submit(t, solana.NewInstruction(
			callerID,
			nil,
			solana.NewReadonlyAccountMeta(recorder, false),
			solana.NewReadonlyAccountMeta(pda, false),
		))
	}

	seeds = [][]byte{seed, {bump}}
	require.NoError(t, submit())
	require.Len(t, *recorded, 1)
	assert.EqualValues(t, pda, (*recorded)[0].Key)
	assert.True(t, (*recorded)[0].IsSigner)

	*recorded = nil
	seeds = [][]byte{[]byte("other"), {bump}}
	err = submit()
	assert.True(t, errors.Is(err, solana.InstructionErrorPrivilegeEscalation) || errors.Is(err, solana.InstructionErrorInvalidSeeds), err.Error())
	assert.Empty(t, *recorded)

	seeds = [][]byte{make([]byte, 33)}
	err = submit()
	assert.True(t, errors.Is(err, solana.InstructionErrorInvalidSeeds))
	assert.Empty(t, *recorded)
}

func TestInvoke_CallDepth(t *testing.T) {
	env := setup(t, &testOverrides{maxInvokeDepth: 2})

	var depths []int
	var self ed25519.PublicKey
	self = env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, _ []*AccountInfo) error {
		depths = append(depths, ic.Depth())
		return ic.Invoke(ctx, solana.NewInstruction(self, nil, solana.NewReadonlyAccountMeta(self, false)))
	})

	err := env.submit(t, solana.NewInstruction(self, nil, solana.NewReadonlyAccountMeta(self, false)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, solana.InstructionErrorCallDepth))
	assert.Equal(t, []int{1, 2}, depths)
}

func TestInvoke_CalleeFailureRollsBack(t *testing.T) {
	env := setup(t, nil)

	callee, _ := env.registerDataProgram(t)
	target := env.saveAccount(t, callee, make([]byte, 1))

	caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, _ []*AccountInfo) error {
		if err := ic.Invoke(ctx, solana.NewInstruction(callee, []byte{opWrite, 1}, solana.NewAccountMeta(target, false))); err != nil {
			return err
		}
		return ic.Invoke(ctx, solana.NewInstruction(callee, []byte{opWriteThenFail, 2}, solana.NewAccountMeta(target, false)))
	})

	err := env.submit(t, solana.NewInstruction(
		caller,
		nil,
		solana.NewReadonlyAccountMeta(callee, false),
		solana.NewAccountMeta(target, false),
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errTestProgramFailure))
	assert.Equal(t, []byte{0}, env.getData(t, target))
}

func TestInvoke_CallerCannotModifyCalleeAccounts(t *testing.T) {
	env := setup(t, nil)

	callee, _ := env.registerDataProgram(t)
	target := env.saveAccount(t, callee, make([]byte, 1))

	caller := env.registerCaller(t, func(ctx context.Context, ic *InvocationContext, _ ed25519.PublicKey, accounts []*AccountInfo) error {
		accounts[1].Data[0] = 5
		return ic.Invoke(ctx, solana.NewInstruction(callee, []byte{opWrite, 1}, solana.NewAccountMeta(target, false)))
	})

	err := env.submit(t, solana.NewInstruction(
		caller,
		nil,
		solana.NewReadonlyAccountMeta(callee, false),
		solana.NewAccountMeta(target, false),
	))
	require.Error(t, err)
	assert.True(t, errors.Is(err, solana.InstructionErrorExternalAccountDataModified))
	assert.Equal(t, []byte{0}, env.getData(t, target))
}

type conflictingStore struct {
	ledger.Store

	conflicts int64
	calls     int64
}

func (s *conflictingStore) ExecuteInTx(ctx context.Context, addresses []string, fn func(ctx context.Context, tx ledger.Tx) error) error {
	atomic.AddInt64(&s.calls, 1)
	if atomic.AddInt64(&s.conflicts, -1) >= 0 {
		return ledger.ErrConflict
	}
	return s.Store.ExecuteInTx(ctx, addresses, fn)
}

func TestProcessTransaction_ConflictRetries(t *testing.T) {
	for _, tc := range []struct {
		name      string
		conflicts int64
		success   bool
	}{
		{name: "recovers", conflicts: 2, success: true},
		{name: "exhausted", conflicts: 3, success: false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := &conflictingStore{
				Store:     memory_ledger.New(),
				conflicts: tc.conflicts,
			}
			env := setupWithStore(t, store, &testOverrides{maxConflictRetries: 2})

			programID, calls := env.registerDataProgram(t)
			account := env.saveAccount(t, programID, make([]byte, 1))

			err := env.submit(t, solana.NewInstruction(programID, []byte{opWrite, 1}, solana.NewAccountMeta(account, false)))
			assert.EqualValues(t, 3, atomic.LoadInt64(&store.calls))

			if tc.success {
				require.NoError(t, err)
				assert.EqualValues(t, 1, atomic.LoadInt64(calls))
				assert.Equal(t, []byte{1}, env.getData(t, account))
			} else {
				assert.True(t, errors.Is(err, ledger.ErrConflict))
				assert.EqualValues(t, 0, atomic.LoadInt64(calls))
				assert.Equal(t, []byte{0}, env.getData(t, account))
			}
		})
	}
}

func TestProcessTransaction_LedgerFailuresAreNotRetried(t *testing.T) {
	failure := errors.New("ledger unavailable")
	store := &failingStore{Store: memory_ledger.New(), err: failure}
	env := setupWithStore(t, store, &testOverrides{maxConflictRetries: 5})

	programID, _ := env.registerDataProgram(t)
	account := env.saveAccount(t, programID, make([]byte, 1))

	err := env.submit(t, solana.NewInstruction(programID, []byte{opWrite, 1}, solana.NewAccountMeta(account, false)))
	assert.Equal(t, failure, err)
	assert.EqualValues(t, 1, atomic.LoadInt64(&store.calls))
}

type failingStore struct {
	ledger.Store

	err   error
	calls int64
}

func (s *failingStore) ExecuteInTx(context.Context, []string, func(ctx context.Context, tx ledger.Tx) error) error {
	atomic.AddInt64(&s.calls, 1)
	return s.err
}

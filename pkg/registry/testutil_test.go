package registry

import (
	"context"
	"crypto/ed25519"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	memory_ledger "github.com/code-payments/tokenitis-server/pkg/ledger/memory"
	"github.com/code-payments/tokenitis-server/pkg/runtime"
	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/token"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
	"github.com/code-payments/tokenitis-server/pkg/testutil"
	"github.com/code-payments/tokenitis-server/pkg/tokenprogram"
)

type testEnv struct {
	ctx       context.Context
	store     ledger.Store
	runtime   *runtime.Runtime
	custodian ed25519.PublicKey

	payer       ed25519.PrivateKey
	initializer ed25519.PrivateKey

	tokenCalls int64
}

func setup(t *testing.T) *testEnv {
	t.Cleanup(testutil.DisableLogging())

	custodian, _, err := tokenitis.GetCustodianAddress(tokenitis.PROGRAM_ID)
	require.NoError(t, err)

	env := &testEnv{
		ctx:         context.Background(),
		store:       memory_ledger.New(),
		custodian:   custodian,
		payer:       newPrivateKey(t),
		initializer: newPrivateKey(t),
	}

	env.runtime = runtime.New(env.store, runtime.WithEnvConfigs())

	tokenProgram := tokenprogram.New()
	countingTokenProgram := runtime.ProgramFunc(func(ctx context.Context, ic *runtime.InvocationContext, programID ed25519.PublicKey, accounts []*runtime.AccountInfo, data []byte) error {
		atomic.AddInt64(&env.tokenCalls, 1)
		return tokenProgram.Process(ctx, ic, programID, accounts, data)
	})
	require.NoError(t, env.runtime.RegisterProgram(token.ProgramKey, countingTokenProgram))
	require.NoError(t, env.runtime.RegisterProgram(tokenitis.PROGRAM_ID, New()))

	return env
}

type testRecipe struct {
	args   *tokenitis.CreateTransformInstructionArgs
	state  ed25519.PublicKey
	assets []ed25519.PublicKey
}

func newRecipeArgs(t *testing.T, numInputs, numOutputs int) *tokenitis.CreateTransformInstructionArgs {
	args := &tokenitis.CreateTransformInstructionArgs{
		Metadata: tokenitis.TransformMetadata{
			Name:   "Bundle",
			Symbol: "BNDL",
			Uri:    "https://example.com/bundle.json",
		},
		Inputs:  make(map[string]tokenitis.Token),
		Outputs: make(map[string]tokenitis.Token),
	}
	for i := 0; i < numInputs; i++ {
		args.Inputs[base58.Encode(newPublicKey(t))] = tokenitis.Token{Amount: uint64(10 * (i + 1))}
	}
	for i := 0; i < numOutputs; i++ {
		args.Outputs[base58.Encode(newPublicKey(t))] = tokenitis.Token{Amount: uint64(i + 1)}
	}
	return args
}

// newRecipe provisions a fresh state account and one initializer owned asset
// account per input and output.
func (e *testEnv) newRecipe(t *testing.T, numInputs, numOutputs int) *testRecipe {
	args := newRecipeArgs(t, numInputs, numOutputs)

	state := newPublicKey(t)
	require.NoError(t, e.store.Save(e.ctx, NewStateAccount(state, args)))

	return &testRecipe{
		args:   args,
		state:  state,
		assets: e.createAssetAccounts(t, args),
	}
}

// createAssetAccounts creates token accounts for the recipe's inputs, then
// its outputs, in sorted key order.
func (e *testEnv) createAssetAccounts(t *testing.T, args *tokenitis.CreateTransformInstructionArgs) []ed25519.PublicKey {
	var assets []ed25519.PublicKey
	for _, tokens := range []map[string]tokenitis.Token{args.Inputs, args.Outputs} {
		for _, key := range sortedKeys(tokens) {
			mint, err := base58.Decode(key)
			require.NoError(t, err)
			assets = append(assets, e.createTokenAccount(t, mint, e.initializerKey(), tokens[key].Amount))
		}
	}
	return assets
}

func (e *testEnv) createTokenAccount(t *testing.T, mint, owner ed25519.PublicKey, amount uint64) ed25519.PublicKey {
	address := newPublicKey(t)

	state := token.Account{
		Mint:   mint,
		Owner:  owner,
		Amount: amount,
		State:  token.AccountStateInitialized,
	}
	require.NoError(t, e.store.Save(e.ctx, &ledger.Account{
		Address: base58.Encode(address),
		Owner:   base58.Encode(token.ProgramKey),
		Data:    state.Marshal(),
	}))

	return address
}

func (e *testEnv) initializerKey() ed25519.PublicKey {
	return e.initializer.Public().(ed25519.PublicKey)
}

func (e *testEnv) createTransformInstruction(t *testing.T, recipe *testRecipe) solana.Instruction {
	ix, err := tokenitis.NewCreateTransformInstruction(
		&tokenitis.CreateTransformInstructionAccounts{
			State:         recipe.state,
			Initializer:   e.initializerKey(),
			TokenAccounts: recipe.assets,
		},
		recipe.args,
	)
	require.NoError(t, err)
	return ix
}

func (e *testEnv) createTransform(t *testing.T, recipe *testRecipe) error {
	return e.submit(t, e.createTransformInstruction(t, recipe))
}

func (e *testEnv) submit(t *testing.T, ixs ...solana.Instruction) error {
	return e.runtime.ProcessTransaction(e.ctx, e.newTransaction(t, ixs...))
}

// newTransaction signs with every signer required by the instructions.
func (e *testEnv) newTransaction(t *testing.T, ixs ...solana.Instruction) *solana.Transaction {
	txn := solana.NewTransaction(e.payer.Public().(ed25519.PublicKey), ixs...)

	signers := []ed25519.PrivateKey{e.payer}
	for i := 1; i < int(txn.Message.Header.NumSignatures); i++ {
		require.EqualValues(t, e.initializerKey(), txn.Message.Accounts[i])
		signers = append(signers, e.initializer)
	}
	require.NoError(t, txn.Sign(signers...))

	return &txn
}

func (e *testEnv) getTokenAccount(t *testing.T, address ed25519.PublicKey) *token.Account {
	stored, err := e.store.Get(e.ctx, base58.Encode(address))
	require.NoError(t, err)

	var account token.Account
	require.True(t, account.Unmarshal(stored.Data))
	return &account
}

func (e *testEnv) getTransform(t *testing.T, address ed25519.PublicKey) *tokenitis.TransformAccount {
	stored, err := e.store.Get(e.ctx, base58.Encode(address))
	require.NoError(t, err)
	require.Equal(t, base58.Encode(tokenitis.PROGRAM_ID), stored.Owner)

	var record tokenitis.TransformAccount
	require.NoError(t, record.Unmarshal(stored.Data))
	return &record
}

func (e *testEnv) assertCustody(t *testing.T, expected ed25519.PublicKey, assets ...ed25519.PublicKey) {
	for _, asset := range assets {
		require.EqualValues(t, expected, e.getTokenAccount(t, asset).Owner, base58.Encode(asset))
	}
}

func (e *testEnv) assertUninitialized(t *testing.T, state ed25519.PublicKey) {
	record := e.getTransform(t, state)
	require.False(t, record.Initialized)
	require.Empty(t, record.Inputs)
	require.Empty(t, record.Outputs)
}

func (e *testEnv) getTokenCalls() int64 {
	return atomic.LoadInt64(&e.tokenCalls)
}

func sortedKeys(tokens map[string]tokenitis.Token) []string {
	keys := make([]string, 0, len(tokens))
	for key := range tokens {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func newPrivateKey(t *testing.T) ed25519.PrivateKey {
	return testutil.GenerateSolanaKeypair(t)
}

func newPublicKey(t *testing.T) ed25519.PublicKey {
	return testutil.GenerateSolanaKeys(t, 1)[0]
}

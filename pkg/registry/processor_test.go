package registry

import (
	"bytes"
	"context"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

func TestProcess_IncorrectProgramID(t *testing.T) {
	err := New().Process(context.Background(), nil, newPublicKey(t), nil, []byte{byte(tokenitis.InstructionCreateTransform)})
	assert.Equal(t, solana.InstructionErrorIncorrectProgramID, err)
}

func TestProcess_UnsupportedInstructions(t *testing.T) {
	env := setup(t)

	for _, instruction := range []tokenitis.Instruction{
		tokenitis.InstructionExecuteTransform,
		tokenitis.InstructionReverseTransform,
		tokenitis.Instruction(99),
	} {
		ix := solana.NewInstruction(tokenitis.PROGRAM_ID, []byte{byte(instruction)})
		err := env.submit(t, ix)
		requireInstructionError(t, err, tokenitis.ErrorUnsupportedInstruction)
	}

	err := env.submit(t, solana.NewInstruction(tokenitis.PROGRAM_ID, nil))
	requireInstructionError(t, err, tokenitis.ErrorInvalidInstructionData)
}

func TestProcess_MalformedInstructionData(t *testing.T) {
	env := setup(t)

	recipe := env.newRecipe(t, 1, 1)
	valid := env.createTransformInstruction(t, recipe)

	for _, data := range [][]byte{
		{byte(tokenitis.InstructionCreateTransform)},
		valid.Data[:len(valid.Data)-1],
		append(append([]byte{}, valid.Data...), 0),
	} {
		ix := valid
		ix.Data = data

		err := env.submit(t, ix)
		requireInstructionError(t, err, tokenitis.ErrorSerialization)
	}

	assert.EqualValues(t, 0, env.getTokenCalls())
	env.assertUninitialized(t, recipe.state)
	env.assertCustody(t, env.initializerKey(), recipe.assets...)
}

func TestProcess_ErrorsAreRegistryCodes(t *testing.T) {
	env := setup(t)

	err := env.submit(t, solana.NewInstruction(tokenitis.PROGRAM_ID, []byte{byte(tokenitis.InstructionExecuteTransform)}))
	require.Error(t, err)

	var ixErr *solana.InstructionError
	require.True(t, errors.As(err, &ixErr))
	require.NotNil(t, ixErr.CustomError())
	assert.Equal(t, solana.CustomError(tokenitis.ErrorUnsupportedInstruction), *ixErr.CustomError())
}

func TestProcessor_CustodianIsCached(t *testing.T) {
	p := New().(*processor)

	expected, _, err := tokenitis.GetCustodianAddress(tokenitis.PROGRAM_ID)
	require.NoError(t, err)

	custodian, err := p.getCustodian(tokenitis.PROGRAM_ID)
	require.NoError(t, err)
	assert.EqualValues(t, expected, custodian)
	assert.Equal(t, 1, p.custodians.GetWeight())

	cached, ok := p.custodians.Retrieve(base58.Encode(tokenitis.PROGRAM_ID))
	require.True(t, ok)
	assert.EqualValues(t, expected, cached)

	custodian, err = p.getCustodian(tokenitis.PROGRAM_ID)
	require.NoError(t, err)
	assert.EqualValues(t, expected, custodian)
	assert.Equal(t, 1, p.custodians.GetWeight())
}

func TestLogRejection(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})
	log := logrus.NewEntry(logger)

	logRejection(log, nil)
	logRejection(log, errors.New("ledger unavailable"))
	logRejection(log, tokenitis.ErrorInvalidRecipe)
	logRejection(log, tokenitis.ErrorMissingRequiredSignature)
	assert.Empty(t, buf.String())

	logRejection(log, tokenitis.ErrorAlreadyInitialized)
	assert.Contains(t, buf.String(), tokenitis.ErrorAlreadyInitialized.Error())
	buf.Reset()

	logRejection(log, &tokenitis.CustodyTransferError{
		Account: newPublicKey(t),
		Err:     errors.New("owner mismatch"),
	})
	assert.Contains(t, buf.String(), "owner mismatch")
	assert.Contains(t, buf.String(), `"level":"info"`)
}

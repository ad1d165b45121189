package tokenitis

import (
	"bytes"
	"crypto/ed25519"

	"github.com/pkg/errors"

	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/binary"
)

// CreateTransformInstructionFixedAccounts is the number of accounts that
// precede the asset accounts.
const CreateTransformInstructionFixedAccounts = (1 + // token program
	1 + // state
	1) // initializer

type CreateTransformInstructionArgs struct {
	Metadata TransformMetadata
	Inputs   map[string]Token
	Outputs  map[string]Token
}

type CreateTransformInstructionAccounts struct {
	State       ed25519.PublicKey
	Initializer ed25519.PublicKey

	// Asset accounts for every input, followed by every output.
	TokenAccounts []ed25519.PublicKey
}

// NumAssetAccounts is the number of asset accounts the recipe requires.
func (args *CreateTransformInstructionArgs) NumAssetAccounts() int {
	return len(args.Inputs) + len(args.Outputs)
}

func (args *CreateTransformInstructionArgs) Marshal() ([]byte, error) {
	data, err := appendMetadata(nil, args.Metadata)
	if err != nil {
		return nil, err
	}
	data, err = appendTokenMap(data, args.Inputs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid inputs")
	}
	data, err = appendTokenMap(data, args.Outputs)
	if err != nil {
		return nil, errors.Wrap(err, "invalid outputs")
	}
	return data, nil
}

// UnmarshalCreateTransformInstructionArgs decodes instruction data,
// including the leading instruction tag.
func UnmarshalCreateTransformInstructionArgs(data []byte) (*CreateTransformInstructionArgs, error) {
	var offset int

	var tag uint8
	if err := binary.ReadUint8(data, &tag, &offset); err != nil {
		return nil, err
	}
	if Instruction(tag) != InstructionCreateTransform {
		return nil, solana.ErrIncorrectInstruction
	}

	var args CreateTransformInstructionArgs
	if err := readMetadata(data, &args.Metadata, &offset); err != nil {
		return nil, errors.Wrap(err, "invalid metadata")
	}
	if err := readTokenMap(data, &args.Inputs, &offset); err != nil {
		return nil, errors.Wrap(err, "invalid inputs")
	}
	if err := readTokenMap(data, &args.Outputs, &offset); err != nil {
		return nil, errors.Wrap(err, "invalid outputs")
	}
	if offset != len(data) {
		return nil, errors.Errorf("unexpected trailing data: %d bytes", len(data)-offset)
	}

	return &args, nil
}

func NewCreateTransformInstruction(
	accounts *CreateTransformInstructionAccounts,
	args *CreateTransformInstructionArgs,
) (solana.Instruction, error) {
	encodedArgs, err := args.Marshal()
	if err != nil {
		return solana.Instruction{}, err
	}

	data := make([]byte, 0, 1+len(encodedArgs))
	data = append(data, byte(InstructionCreateTransform))
	data = append(data, encodedArgs...)

	metas := []solana.AccountMeta{
		solana.NewReadonlyAccountMeta(SPL_TOKEN_PROGRAM_ID, false),
		solana.NewAccountMeta(accounts.State, false),
		solana.NewReadonlyAccountMeta(accounts.Initializer, true),
	}
	for _, tokenAccount := range accounts.TokenAccounts {
		metas = append(metas, solana.NewAccountMeta(tokenAccount, false))
	}

	return solana.NewInstruction(PROGRAM_ID, data, metas...), nil
}

// DecompileCreateTransform parses a CreateTransform instruction addressed to
// the registry program.
func DecompileCreateTransform(ix solana.Instruction) (*CreateTransformInstructionArgs, *CreateTransformInstructionAccounts, error) {
	if !bytes.Equal(ix.Program, PROGRAM_ID) {
		return nil, nil, solana.ErrIncorrectProgram
	}

	args, err := UnmarshalCreateTransformInstructionArgs(ix.Data)
	if err != nil {
		return nil, nil, err
	}

	expected := CreateTransformInstructionFixedAccounts + args.NumAssetAccounts()
	if len(ix.Accounts) != expected {
		return nil, nil, errors.Errorf("invalid number of accounts: %d (expect %d)", len(ix.Accounts), expected)
	}
	if !bytes.Equal(ix.Accounts[0].PublicKey, SPL_TOKEN_PROGRAM_ID) {
		return nil, nil, errors.New("unexpected token program")
	}

	accounts := &CreateTransformInstructionAccounts{
		State:       ix.Accounts[1].PublicKey,
		Initializer: ix.Accounts[2].PublicKey,
	}
	for _, meta := range ix.Accounts[CreateTransformInstructionFixedAccounts:] {
		accounts.TokenAccounts = append(accounts.TokenAccounts, meta.PublicKey)
	}

	return args, accounts, nil
}

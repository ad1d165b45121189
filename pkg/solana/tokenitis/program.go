package tokenitis

import (
	"crypto/ed25519"

	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/token"
)

var (
	PROGRAM_ADDRESS = solana.MustPublicKeyFromString("TokenitisjU76GidB4nbDCuQigkLksUp2Sq4i4efZmC")
	PROGRAM_ID      = ed25519.PublicKey(PROGRAM_ADDRESS)
)

var (
	SPL_TOKEN_PROGRAM_ID = token.ProgramKey
)

// Instruction is the leading tag of registry instruction data.
type Instruction uint8

const (
	InstructionCreateTransform Instruction = iota

	// Execute and reverse are reserved by the on-chain program but are not
	// processed here.
	InstructionExecuteTransform
	InstructionReverseTransform
)

func (i Instruction) String() string {
	switch i {
	case InstructionCreateTransform:
		return "CreateTransform"
	case InstructionExecuteTransform:
		return "ExecuteTransform"
	case InstructionReverseTransform:
		return "ReverseTransform"
	}
	return "Unknown"
}

// GetInstruction returns the tag encoded in registry instruction data.
func GetInstruction(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return 0, ErrorInvalidInstructionData
	}
	return Instruction(data[0]), nil
}

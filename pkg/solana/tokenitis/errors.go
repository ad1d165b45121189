package tokenitis

import (
	"crypto/ed25519"
	"fmt"

	"github.com/mr-tron/base58"

	"github.com/code-payments/tokenitis-server/pkg/solana"
)

// Error is a registry program error code.
type Error uint32

const (
	ErrorMissingAccount Error = iota
	ErrorUnexpectedAccount
	ErrorInvalidRecipe
	ErrorMissingRequiredSignature
	ErrorIncorrectProgramID
	ErrorAlreadyInitialized
	ErrorCustodyTransferFailed
	ErrorSerialization
	ErrorInvalidInstructionData
	ErrorUnsupportedInstruction
	ErrorInvalidStateAccount
)

var errorNames = map[Error]string{
	ErrorMissingAccount:           "missing account",
	ErrorUnexpectedAccount:        "unexpected account",
	ErrorInvalidRecipe:            "invalid recipe",
	ErrorMissingRequiredSignature: "missing required signature",
	ErrorIncorrectProgramID:       "incorrect program id",
	ErrorAlreadyInitialized:       "transform already initialized",
	ErrorCustodyTransferFailed:    "custody transfer failed",
	ErrorSerialization:            "serialization error",
	ErrorInvalidInstructionData:   "invalid instruction data",
	ErrorUnsupportedInstruction:   "unsupported instruction",
	ErrorInvalidStateAccount:      "invalid transform state account",
}

func (e Error) Error() string {
	if name, ok := errorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("tokenitis error %d", uint32(e))
}

// CustomError is the code reported to transaction submitters.
func (e Error) CustomError() solana.CustomError {
	return solana.CustomError(e)
}

// IsStructural reports whether the error was caused by the shape of the
// request rather than by ledger state.
func (e Error) IsStructural() bool {
	switch e {
	case ErrorMissingAccount,
		ErrorUnexpectedAccount,
		ErrorInvalidRecipe,
		ErrorMissingRequiredSignature,
		ErrorIncorrectProgramID,
		ErrorInvalidInstructionData,
		ErrorUnsupportedInstruction,
		ErrorInvalidStateAccount:
		return true
	}
	return false
}

// CustodyTransferError reports the asset account whose authority could not
// be reassigned to the custodian.
type CustodyTransferError struct {
	Index   int
	Account ed25519.PublicKey
	Err     error
}

func (e *CustodyTransferError) Error() string {
	return fmt.Sprintf("%s: asset account %d (%s): %v", ErrorCustodyTransferFailed, e.Index, base58.Encode(e.Account), e.Err)
}

func (e *CustodyTransferError) Unwrap() error {
	return e.Err
}

func (e *CustodyTransferError) Is(target error) bool {
	return target == ErrorCustodyTransferFailed
}

func (e *CustodyTransferError) CustomError() solana.CustomError {
	return ErrorCustodyTransferFailed.CustomError()
}

// SerializationError reports instruction or account data that could not be
// encoded or decoded. The codec error is kept as the cause.
type SerializationError struct {
	Context string
	Err     error
}

func NewSerializationError(context string, err error) *SerializationError {
	return &SerializationError{
		Context: context,
		Err:     err,
	}
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrorSerialization, e.Context, e.Err)
}

func (e *SerializationError) Unwrap() error {
	return e.Err
}

func (e *SerializationError) Is(target error) bool {
	return target == ErrorSerialization
}

func (e *SerializationError) CustomError() solana.CustomError {
	return ErrorSerialization.CustomError()
}

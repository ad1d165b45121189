package registry

import (
	"bytes"
	"context"
	"crypto/ed25519"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/tokenitis-server/pkg/cache"
	"github.com/code-payments/tokenitis-server/pkg/runtime"
	"github.com/code-payments/tokenitis-server/pkg/solana"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

const custodianCacheBudget = 16

type processor struct {
	log        *logrus.Entry
	custodians cache.Cache[ed25519.PublicKey]
}

// New returns the runtime.Program for the transform registry.
func New() runtime.Program {
	return &processor{
		log:        logrus.StandardLogger().WithField("program", "tokenitis"),
		custodians: cache.New[ed25519.PublicKey]("custodians", custodianCacheBudget),
	}
}

// Process implements runtime.Program.Process
func (p *processor) Process(ctx context.Context, ic *runtime.InvocationContext, programID ed25519.PublicKey, accounts []*runtime.AccountInfo, data []byte) error {
	if !bytes.Equal(programID, tokenitis.PROGRAM_ID) {
		return solana.InstructionErrorIncorrectProgramID
	}

	instruction, err := tokenitis.GetInstruction(data)
	if err != nil {
		return err
	}

	switch instruction {
	case tokenitis.InstructionCreateTransform:
		err := p.processCreateTransform(ctx, ic, programID, accounts, data)
		logRejection(p.log.WithFields(logrus.Fields{
			"method":      "Process",
			"instruction": instruction.String(),
		}), err)
		return err
	default:
		p.log.WithFields(logrus.Fields{
			"method":      "Process",
			"instruction": instruction.String(),
		}).Debug("rejecting unsupported instruction")
		return tokenitis.ErrorUnsupportedInstruction
	}
}

// getCustodian returns the custodian address for programID, deriving it on
// first use.
func (p *processor) getCustodian(programID ed25519.PublicKey) (ed25519.PublicKey, error) {
	key := base58.Encode(programID)
	if custodian, ok := p.custodians.Retrieve(key); ok {
		return custodian, nil
	}

	custodian, _, err := tokenitis.GetCustodianAddress(programID)
	if err != nil {
		return nil, err
	}

	// Lost races insert the same derived address
	_ = p.custodians.Insert(key, custodian, 1)
	return custodian, nil
}

// logRejection reports registry rejections that depend on ledger state.
// Structural rejections are logged at debug level where they are detected.
func logRejection(log *logrus.Entry, err error) {
	var coded interface{ CustomError() solana.CustomError }
	if !errors.As(err, &coded) {
		return
	}

	code := tokenitis.Error(coded.CustomError())
	if code.IsStructural() {
		return
	}

	log.WithError(err).WithField("code", uint32(code)).Info("instruction rejected")
}

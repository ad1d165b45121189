package runtime

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	"github.com/code-payments/tokenitis-server/pkg/metrics"
	"github.com/code-payments/tokenitis-server/pkg/rate"
	"github.com/code-payments/tokenitis-server/pkg/retry"
	"github.com/code-payments/tokenitis-server/pkg/retry/backoff"
	"github.com/code-payments/tokenitis-server/pkg/solana"
)

const (
	maxConflictBackoff = time.Second
)

var (
	ErrProgramAlreadyRegistered = errors.New("program already registered")
	ErrFeePayerRateLimited      = errors.New("fee payer rate limited")
)

// Program processes instructions addressed to its program id.
//
// Account data is a private copy for the duration of the call. Changes are
// only retained when Process returns nil and the program owns every account
// whose data it modified.
type Program interface {
	Process(ctx context.Context, ic *InvocationContext, programID ed25519.PublicKey, accounts []*AccountInfo, data []byte) error
}

// ProgramFunc adapts a function to a Program.
type ProgramFunc func(ctx context.Context, ic *InvocationContext, programID ed25519.PublicKey, accounts []*AccountInfo, data []byte) error

func (f ProgramFunc) Process(ctx context.Context, ic *InvocationContext, programID ed25519.PublicKey, accounts []*AccountInfo, data []byte) error {
	return f(ctx, ic, programID, accounts, data)
}

// Runtime executes signed transactions against a ledger. Every transaction
// is all or nothing: writes are only committed when every instruction,
// including nested invocations, succeeds.
type Runtime struct {
	log   *logrus.Entry
	conf  *conf
	store ledger.Store

	feePayerLimiter rate.Limiter

	programsMu sync.RWMutex
	programs   map[string]Program
}

func New(store ledger.Store, configProvider ConfigProvider) *Runtime {
	conf := configProvider()

	var feePayerLimiter rate.Limiter = &rate.NoLimiter{}
	if limit := conf.feePayerRateLimit.Get(context.Background()); limit > 0 {
		feePayerLimiter = rate.NewLocalLimiter(limit)
	}

	return &Runtime{
		log:             logrus.StandardLogger().WithField("type", "runtime"),
		conf:            conf,
		store:           store,
		feePayerLimiter: feePayerLimiter,
		programs:        make(map[string]Program),
	}
}

// RegisterProgram makes a program invocable at the provided id.
func (r *Runtime) RegisterProgram(id ed25519.PublicKey, program Program) error {
	r.programsMu.Lock()
	defer r.programsMu.Unlock()

	key := base58.Encode(id)
	if _, ok := r.programs[key]; ok {
		return ErrProgramAlreadyRegistered
	}
	r.programs[key] = program
	return nil
}

func (r *Runtime) getProgram(id ed25519.PublicKey) (Program, bool) {
	r.programsMu.RLock()
	defer r.programsMu.RUnlock()

	program, ok := r.programs[base58.Encode(id)]
	return program, ok
}

// ProcessTransaction verifies and executes a transaction.
//
// Instruction failures are returned as *solana.InstructionError. Transaction
// level failures are returned as solana.TransactionErrorKey. Other errors
// indicate a ledger failure. In every failure case, nothing is written.
func (r *Runtime) ProcessTransaction(ctx context.Context, txn *solana.Transaction) (err error) {
	tracer := metrics.TraceMethodCall(ctx, metricsStructName, "ProcessTransaction")
	tracer.AddAttributes(map[string]interface{}{
		"instructions": len(txn.Message.Instructions),
		"accounts":     len(txn.Message.Accounts),
		"signatures":   len(txn.Signatures),
	})
	defer tracer.End()

	invocationID := uuid.New().String()
	log := r.log.WithFields(logrus.Fields{
		"method":     "ProcessTransaction",
		"invocation": invocationID,
	})

	start := time.Now()
	var attempts uint
	defer func() {
		recordTransactionProcessedEvent(ctx, invocationID, len(txn.Message.Instructions), attempts, time.Since(start), err)
		tracer.AddAttribute("attempts", attempts)
		tracer.OnError(err)
	}()

	if err := txn.Message.Sanitize(); err != nil {
		log.WithError(err).Debug("transaction failed sanitization")
		return err
	}
	if err := txn.VerifySignatures(); err != nil {
		log.WithError(err).Debug("transaction failed signature verification")
		return err
	}

	log = log.WithField("signature", base58.Encode(txn.Signature()))

	feePayer := base58.Encode(txn.Message.Accounts[0])
	if !r.feePayerLimiter.Allow(feePayer) {
		log.WithField("fee_payer", feePayer).Debug("fee payer is rate limited")
		return ErrFeePayerRateLimited
	}

	for _, compiled := range txn.Message.Instructions {
		programID := txn.Message.Accounts[compiled.ProgramIndex]
		if _, ok := r.getProgram(programID); !ok {
			log.WithField("program", base58.Encode(programID)).Debug("transaction references an unknown program")
			return errors.Wrap(solana.TransactionErrorProgramAccountNotFound, base58.Encode(programID))
		}
	}

	addresses := make([]string, len(txn.Message.Accounts))
	for i, account := range txn.Message.Accounts {
		addresses[i] = base58.Encode(account)
	}

	attempts, err = retry.Retry(
		func() error {
			return r.store.ExecuteInTx(ctx, addresses, func(ctx context.Context, tx ledger.Tx) error {
				return r.execute(ctx, txn, tx)
			})
		},
		retry.RetriableErrors(ledger.ErrConflict),
		retry.Context(ctx),
		retry.Limit(uint(r.conf.maxConflictRetries.Get(ctx))+1),
		retry.BackoffWithJitter(backoff.BinaryExponential(r.conf.conflictBackoff.Get(ctx)), maxConflictBackoff, 0.1),
	)
	if err != nil {
		log.WithError(err).WithField("attempts", attempts).Info("transaction failed")
		return err
	}

	log.WithField("attempts", attempts).Debug("transaction processed")
	return nil
}

func (r *Runtime) execute(ctx context.Context, txn *solana.Transaction, tx ledger.Tx) error {
	tc := &transactionContext{
		runtime:  r,
		accounts: make(map[string]*transactionAccount),
		maxDepth: int(r.conf.maxInvokeDepth.Get(ctx)),
	}

	for i, key := range txn.Message.Accounts {
		address := base58.Encode(key)

		account := &transactionAccount{
			key:        key,
			isSigner:   txn.Message.IsSigner(i),
			isWritable: txn.Message.IsWritable(i),
		}

		stored, err := tx.Get(ctx, address)
		switch err {
		case nil:
			owner, err := solana.PublicKeyFromString(stored.Owner)
			if err != nil {
				return errors.Wrapf(err, "invalid owner for %s", address)
			}

			account.exists = true
			account.owner = owner
			account.data = stored.Data
		case ledger.ErrAccountNotFound:
		default:
			return errors.Wrapf(err, "failed to load %s", address)
		}

		account.originalOwner = cloneBytes(account.owner)
		account.originalData = cloneBytes(account.data)
		tc.accounts[address] = account
	}

	for i := range txn.Message.Instructions {
		ix, err := txn.Message.Decompile(i)
		if err != nil {
			return solana.NewInstructionError(i, err)
		}

		if err := tc.processInstruction(ctx, ix, 1); err != nil {
			return solana.NewInstructionError(i, err)
		}
	}

	modified := make([]string, 0)
	for address, account := range tc.accounts {
		if account.isModified() {
			modified = append(modified, address)
		}
	}
	sort.Strings(modified)

	for _, address := range modified {
		account := tc.accounts[address]
		err := tx.Stage(ctx, &ledger.Account{
			Address: address,
			Owner:   base58.Encode(account.owner),
			Data:    account.data,
		})
		if err != nil {
			return errors.Wrapf(err, "failed to stage %s", address)
		}
	}

	return nil
}

type transactionAccount struct {
	key ed25519.PublicKey

	exists     bool
	isSigner   bool
	isWritable bool

	owner ed25519.PublicKey
	data  []byte

	originalOwner ed25519.PublicKey
	originalData  []byte
}

func (a *transactionAccount) isModified() bool {
	return !bytes.Equal(a.owner, a.originalOwner) || !bytes.Equal(a.data, a.originalData)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	cloned := make([]byte, len(b))
	copy(cloned, b)
	return cloned
}

package tests

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
)

func RunTests(t *testing.T, s ledger.Store, teardown func()) {
	for _, tf := range []func(t *testing.T, s ledger.Store){
		testHappyPath,
		testInvalidAccount,
		testCommit,
		testRollback,
		testTxScope,
		testExclusiveLocking,
	} {
		tf(t, s)
		teardown()
	}
}

func testHappyPath(t *testing.T, s ledger.Store) {
	t.Run("testHappyPath", func(t *testing.T) {
		start := time.Now()

		ctx := context.Background()

		expected := &ledger.Account{
			Address: newAddress(t),
			Owner:   newAddress(t),
			Data:    []byte{1, 2, 3},
		}
		cloned := expected.Clone()

		// Validate the account initially doesn't exist

		_, err := s.Get(ctx, expected.Address)
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		// Save the account

		require.NoError(t, s.Save(ctx, expected))
		assert.True(t, expected.LastUpdatedAt.After(start))

		actual, err := s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentAccounts(t, cloned, actual)

		// Mutating the returned account doesn't affect stored state

		actual.Data[0] = 0xff
		actual, err = s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentAccounts(t, cloned, actual)

		// Update the account

		previousLastUpdatedTs := expected.LastUpdatedAt

		expected.Owner = newAddress(t)
		expected.Data = make([]byte, 64)
		cloned = expected.Clone()

		time.Sleep(time.Millisecond)
		require.NoError(t, s.Save(ctx, expected))
		assert.True(t, expected.LastUpdatedAt.After(previousLastUpdatedTs))

		actual, err = s.Get(ctx, expected.Address)
		require.NoError(t, err)
		assertEquivalentAccounts(t, cloned, actual)
	})
}

func testInvalidAccount(t *testing.T, s ledger.Store) {
	t.Run("testInvalidAccount", func(t *testing.T) {
		ctx := context.Background()

		for _, invalid := range []*ledger.Account{
			{Address: "invalid", Owner: newAddress(t)},
			{Address: newAddress(t), Owner: ""},
			{Address: newAddress(t), Owner: base58.Encode([]byte{1, 2, 3})},
		} {
			err := s.Save(ctx, invalid)
			assert.True(t, errors.Is(err, ledger.ErrInvalidAccount))
		}
	})
}

func testCommit(t *testing.T, s ledger.Store) {
	t.Run("testCommit", func(t *testing.T) {
		ctx := context.Background()

		existing := &ledger.Account{
			Address: newAddress(t),
			Owner:   newAddress(t),
			Data:    make([]byte, 8),
		}
		require.NoError(t, s.Save(ctx, existing))

		created := newAddress(t)
		owner := newAddress(t)

		err := s.ExecuteInTx(ctx, []string{existing.Address, created}, func(ctx context.Context, tx ledger.Tx) error {
			account, err := tx.Get(ctx, existing.Address)
			require.NoError(t, err)
			assertEquivalentAccounts(t, existing, account)

			_, err = tx.Get(ctx, created)
			assert.Equal(t, ledger.ErrAccountNotFound, err)

			account.Data[0] = 1
			require.NoError(t, tx.Stage(ctx, account))

			require.NoError(t, tx.Stage(ctx, &ledger.Account{
				Address: created,
				Owner:   owner,
				Data:    []byte{42},
			}))

			// Staged writes are visible within the transaction

			account, err = tx.Get(ctx, existing.Address)
			require.NoError(t, err)
			assert.EqualValues(t, 1, account.Data[0])

			account, err = tx.Get(ctx, created)
			require.NoError(t, err)
			assert.Equal(t, []byte{42}, account.Data)

			// But not outside of it

			account, err = s.Get(ctx, existing.Address)
			require.NoError(t, err)
			assert.EqualValues(t, 0, account.Data[0])

			return nil
		})
		require.NoError(t, err)

		actual, err := s.Get(ctx, existing.Address)
		require.NoError(t, err)
		assert.EqualValues(t, 1, actual.Data[0])

		actual, err = s.Get(ctx, created)
		require.NoError(t, err)
		assert.Equal(t, owner, actual.Owner)
		assert.Equal(t, []byte{42}, actual.Data)
	})
}

func testRollback(t *testing.T, s ledger.Store) {
	t.Run("testRollback", func(t *testing.T) {
		ctx := context.Background()

		existing := &ledger.Account{
			Address: newAddress(t),
			Owner:   newAddress(t),
			Data:    make([]byte, 8),
		}
		require.NoError(t, s.Save(ctx, existing))

		created := newAddress(t)
		expectedErr := errors.New("aborted")

		err := s.ExecuteInTx(ctx, []string{existing.Address, created}, func(ctx context.Context, tx ledger.Tx) error {
			account, err := tx.Get(ctx, existing.Address)
			require.NoError(t, err)

			account.Data[0] = 1
			require.NoError(t, tx.Stage(ctx, account))

			require.NoError(t, tx.Stage(ctx, &ledger.Account{
				Address: created,
				Owner:   newAddress(t),
			}))

			return expectedErr
		})
		assert.Equal(t, expectedErr, err)

		actual, err := s.Get(ctx, existing.Address)
		require.NoError(t, err)
		assertEquivalentAccounts(t, existing, actual)

		_, err = s.Get(ctx, created)
		assert.Equal(t, ledger.ErrAccountNotFound, err)
	})
}

func testTxScope(t *testing.T, s ledger.Store) {
	t.Run("testTxScope", func(t *testing.T) {
		ctx := context.Background()

		locked := newAddress(t)
		unlocked := &ledger.Account{
			Address: newAddress(t),
			Owner:   newAddress(t),
		}
		require.NoError(t, s.Save(ctx, unlocked))

		var captured ledger.Tx
		err := s.ExecuteInTx(ctx, []string{locked}, func(ctx context.Context, tx ledger.Tx) error {
			captured = tx

			_, err := tx.Get(ctx, unlocked.Address)
			assert.Equal(t, ledger.ErrAccountNotLocked, err)

			err = tx.Stage(ctx, unlocked)
			assert.Equal(t, ledger.ErrAccountNotLocked, err)

			err = tx.Stage(ctx, &ledger.Account{Address: locked, Owner: "invalid"})
			assert.True(t, errors.Is(err, ledger.ErrInvalidAccount))

			return nil
		})
		require.NoError(t, err)

		_, err = s.Get(ctx, locked)
		assert.Equal(t, ledger.ErrAccountNotFound, err)

		// The tx can't be used after it completes

		_, err = captured.Get(ctx, locked)
		assert.Equal(t, ledger.ErrTxClosed, err)
		err = captured.Stage(ctx, &ledger.Account{Address: locked, Owner: newAddress(t)})
		assert.Equal(t, ledger.ErrTxClosed, err)
	})
}

func testExclusiveLocking(t *testing.T, s ledger.Store) {
	t.Run("testExclusiveLocking", func(t *testing.T) {
		ctx := context.Background()

		workerCount := 16
		incrementsPerWorker := 10

		counter := &ledger.Account{
			Address: newAddress(t),
			Owner:   newAddress(t),
			Data:    make([]byte, 8),
		}
		require.NoError(t, s.Save(ctx, counter))

		var wg sync.WaitGroup
		errs := make(chan error, workerCount*incrementsPerWorker)
		for i := 0; i < workerCount; i++ {
			wg.Add(1)

			// Each worker also locks its own address, so lock sets overlap
			// only on the counter.
			own := newAddress(t)

			go func() {
				defer wg.Done()

				for j := 0; j < incrementsPerWorker; j++ {
					errs <- s.ExecuteInTx(ctx, []string{own, counter.Address}, func(ctx context.Context, tx ledger.Tx) error {
						account, err := tx.Get(ctx, counter.Address)
						if err != nil {
							return err
						}

						value := binary.LittleEndian.Uint64(account.Data)
						binary.LittleEndian.PutUint64(account.Data, value+1)
						return tx.Stage(ctx, account)
					})
				}
			}()
		}

		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		actual, err := s.Get(ctx, counter.Address)
		require.NoError(t, err)
		assert.EqualValues(t, workerCount*incrementsPerWorker, binary.LittleEndian.Uint64(actual.Data))
	})
}

func newAddress(t *testing.T) string {
	pub, _, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return base58.Encode(pub)
}

func assertEquivalentAccounts(t *testing.T, obj1, obj2 *ledger.Account) {
	assert.Equal(t, obj1.Address, obj2.Address)
	assert.Equal(t, obj1.Owner, obj2.Owner)
	assert.Equal(t, len(obj1.Data), len(obj2.Data))
	if len(obj1.Data) > 0 {
		assert.Equal(t, obj1.Data, obj2.Data)
	}
}

package fhe

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testUser     = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
)

// flakyBackend fails Init a configurable number of times before delegating to
// a LocalBackend.
type flakyBackend struct {
	*LocalBackend
	failures atomic.Int32
	calls    atomic.Int32
}

func (f *flakyBackend) Init(ctx context.Context) error {
	n := f.calls.Add(1)
	if n <= f.failures.Load() {
		return errors.New("relayer unreachable")
	}
	return nil
}

func TestEngineInit(t *testing.T) {
	ctx := context.Background()

	t.Run("FailureIsRetried", func(t *testing.T) {
		backend := &flakyBackend{LocalBackend: NewLocalBackend([]byte("s"))}
		backend.failures.Store(1)

		engine, err := NewEngine(1, backend)
		require.NoError(t, err)

		err = engine.Init(ctx)
		require.ErrorIs(t, err, domain.ErrSDKLoad)

		// A failed attempt is not memoized; the next call starts fresh.
		require.NoError(t, engine.Init(ctx))
		assert.Equal(t, int32(2), backend.calls.Load())
	})

	t.Run("SuccessIsMemoized", func(t *testing.T) {
		backend := &flakyBackend{LocalBackend: NewLocalBackend([]byte("s"))}
		engine, err := NewEngine(1, backend)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				assert.NoError(t, engine.Init(ctx))
			}()
		}
		wg.Wait()
		require.NoError(t, engine.Init(ctx))
		assert.LessOrEqual(t, backend.calls.Load(), int32(8))
		assert.GreaterOrEqual(t, backend.calls.Load(), int32(1))
	})

	t.Run("RequiresBackend", func(t *testing.T) {
		_, err := NewEngine(1, nil)
		assert.ErrorIs(t, err, domain.ErrSDKLoad)
	})

	t.Run("RequiresPositiveChainID", func(t *testing.T) {
		_, err := NewEngine(0, NewLocalBackend(nil))
		assert.Error(t, err)
	})
}

func TestEncryptBet(t *testing.T) {
	ctx := context.Background()
	backend := NewLocalBackend([]byte("node-secret"))
	engine, err := NewEngine(1, backend)
	require.NoError(t, err)

	t.Run("BundleBinding", func(t *testing.T) {
		bundle, err := engine.EncryptBet(ctx, testContract.Hex(), testUser, 1, 250)
		require.NoError(t, err)
		require.Len(t, bundle.Handles, 2)
		require.NotEmpty(t, bundle.Proof)

		// The proof verifies only for the exact (contract, user) pair.
		require.NoError(t, backend.VerifyInput(ctx, bundle.Proof, bundle.Handles, testContract, testUser))

		otherUser := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
		err = backend.VerifyInput(ctx, bundle.Proof, bundle.Handles, testContract, otherUser)
		assert.ErrorIs(t, err, domain.ErrInvalidProof)

		otherContract := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
		err = backend.VerifyInput(ctx, bundle.Proof, bundle.Handles, otherContract, testUser)
		assert.ErrorIs(t, err, domain.ErrInvalidProof)
	})

	t.Run("SwappedHandlesRejected", func(t *testing.T) {
		bundle, err := engine.EncryptBet(ctx, testContract.Hex(), testUser, 0, 100)
		require.NoError(t, err)

		swapped := []domain.Handle{bundle.Handles[1], bundle.Handles[0]}
		err = backend.VerifyInput(ctx, bundle.Proof, swapped, testContract, testUser)
		assert.ErrorIs(t, err, domain.ErrInvalidProof)
	})

	t.Run("RoundTrip", func(t *testing.T) {
		bundle, err := engine.EncryptBet(ctx, testContract.Hex(), testUser, 3, 777)
		require.NoError(t, err)

		option, err := backend.Decrypt(ctx, bundle.Handles[0])
		require.NoError(t, err)
		amount, err := backend.Decrypt(ctx, bundle.Handles[1])
		require.NoError(t, err)
		assert.Equal(t, uint64(3), option)
		assert.Equal(t, uint64(777), amount)
	})

	t.Run("InvalidContract", func(t *testing.T) {
		_, err := engine.EncryptBet(ctx, "0x123", testUser, 0, 1)
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})

	t.Run("SingleFieldHelpers", func(t *testing.T) {
		opt, err := engine.EncryptOption(ctx, testContract.Hex(), testUser, 2)
		require.NoError(t, err)
		require.Len(t, opt.Handles, 1)
		v, err := backend.Decrypt(ctx, opt.Handles[0])
		require.NoError(t, err)
		assert.Equal(t, uint64(2), v)

		amt, err := engine.EncryptAmount(ctx, testContract.Hex(), testUser, 4200)
		require.NoError(t, err)
		require.Len(t, amt.Handles, 1)
		v, err = backend.Decrypt(ctx, amt.Handles[0])
		require.NoError(t, err)
		assert.Equal(t, uint64(4200), v)
	})
}

func TestValidateAddress(t *testing.T) {
	t.Run("Checksummed", func(t *testing.T) {
		addr, err := ValidateAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
		require.NoError(t, err)
		assert.Equal(t, testContract, addr)
	})

	t.Run("AllLowercaseAccepted", func(t *testing.T) {
		_, err := ValidateAddress("0x5fbdb2315678afecb367f032d93f642f64180aa3")
		assert.NoError(t, err)
	})

	t.Run("BadChecksumRejected", func(t *testing.T) {
		// Mixed case with one flipped character.
		_, err := ValidateAddress("0x5FbDB2315678afecb367f032d93F642f64180Aa3")
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})

	t.Run("NotAnAddress", func(t *testing.T) {
		_, err := ValidateAddress("hello")
		assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	})
}

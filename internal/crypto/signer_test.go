package crypto

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

const (
	testKey     = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	testChainID = 31337
)

func testBet() domain.BetSubmission {
	return domain.BetSubmission{
		MarketID:     3,
		OptionHandle: domain.Handle{0x01},
		AmountHandle: domain.Handle{0x02},
		Proof:        []byte("proof-bytes"),
		Value:        big.NewInt(1_000_000),
		Nonce:        42,
	}
}

func TestNewSigner(t *testing.T) {
	t.Run("AcceptsPrefixedKey", func(t *testing.T) {
		a, err := NewSigner(testKey, testChainID)
		require.NoError(t, err)
		b, err := NewSigner("0x"+testKey, testChainID)
		require.NoError(t, err)
		assert.Equal(t, a.Address(), b.Address())
	})

	t.Run("RejectsGarbage", func(t *testing.T) {
		_, err := NewSigner("zzzz", testChainID)
		assert.Error(t, err)
	})
}

func TestBetSignRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	sub := testBet()
	require.NoError(t, signer.SignBet(&sub))
	require.Len(t, sub.Signature, 65)

	recovered, err := RecoverBettor(sub, testChainID)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)
}

func TestBetDigestBindsFields(t *testing.T) {
	signer, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	sub := testBet()
	require.NoError(t, signer.SignBet(&sub))

	t.Run("TamperedValue", func(t *testing.T) {
		tampered := sub
		tampered.Value = big.NewInt(5)
		recovered, err := RecoverBettor(tampered, testChainID)
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered)
		}
	})

	t.Run("TamperedProof", func(t *testing.T) {
		tampered := sub
		tampered.Proof = []byte("other-proof")
		recovered, err := RecoverBettor(tampered, testChainID)
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered)
		}
	})

	t.Run("WrongChain", func(t *testing.T) {
		recovered, err := RecoverBettor(sub, testChainID+1)
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered,
				"a signature for one chain must not verify on another")
		}
	})

	t.Run("MissingSignature", func(t *testing.T) {
		unsigned := testBet()
		_, err := RecoverBettor(unsigned, testChainID)
		assert.ErrorIs(t, err, domain.ErrInvalidSignature)
	})
}

func TestOpSignRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKey, testChainID)
	require.NoError(t, err)

	op := domain.MarketOp{
		Kind:     domain.OpSettleMarket,
		MarketID: 9,

		WinningOption: 1,
		Nonce:         7,
	}
	require.NoError(t, signer.SignOp(&op))

	recovered, err := RecoverCaller(op, testChainID)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), recovered)

	t.Run("KindIsBound", func(t *testing.T) {
		tampered := op
		tampered.Kind = domain.OpCancelMarket
		recovered, err := RecoverCaller(tampered, testChainID)
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered)
		}
	})

	t.Run("ParamsAreBound", func(t *testing.T) {
		tampered := op
		tampered.WinningOption = 0
		recovered, err := RecoverCaller(tampered, testChainID)
		if err == nil {
			assert.NotEqual(t, signer.Address(), recovered)
		}
	})
}

func TestHMACAuth(t *testing.T) {
	auth := &HMACAuth{Key: "key-id", Secret: "shared-secret"}
	require.True(t, auth.Enabled())

	headers := auth.RelayerHeaders("POST", "/v1/input", `{"x":1}`)
	assert.Equal(t, "key-id", headers["X-Relayer-Key"])
	assert.NotEmpty(t, headers["X-Relayer-Timestamp"])
	assert.NotEmpty(t, headers["X-Relayer-Signature"])

	// Different bodies must not share a signature.
	other := auth.RelayerHeaders("POST", "/v1/input", `{"x":2}`)
	assert.NotEqual(t, headers["X-Relayer-Signature"], other["X-Relayer-Signature"])

	var disabled *HMACAuth
	assert.False(t, disabled.Enabled())
}

package ledger

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

func settleOp(marketID uint64, winning uint8) domain.MarketOp {
	return domain.MarketOp{
		Kind:          domain.OpSettleMarket,
		MarketID:      marketID,
		WinningOption: winning,
		Nonce:         200,
	}
}

func TestSettleMarket(t *testing.T) {
	ctx := context.Background()

	t.Run("OnlyOracle", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)
		closeMarket(t, env, m.ID)

		err := env.core.SettleMarket(ctx, signedOp(t, env.bettor, settleOp(m.ID, 0)))
		assert.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("MustBeClosed", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)

		err := env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 0)))
		assert.ErrorIs(t, err, domain.ErrNotClosed)
	})

	t.Run("InvalidOption", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t) // two options
		closeMarket(t, env, m.ID)

		err := env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 2)))
		assert.ErrorIs(t, err, domain.ErrInvalidOption)
	})

	t.Run("DoubleSettleRejected", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)
		closeMarket(t, env, m.ID)

		require.NoError(t, env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 0))))
		err := env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 0)))
		assert.ErrorIs(t, err, domain.ErrNotClosed)
	})

	t.Run("OnlyAggregateDecrypted", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)

		_, err := env.placeBet(t, env.bettor, m.ID, 0, 100)
		require.NoError(t, err)
		_, err = env.placeBet(t, env.other, m.ID, 1, 40)
		require.NoError(t, err)

		closeMarket(t, env, m.ID)
		require.NoError(t, env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 0))))

		got, err := env.core.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.MarketStatusSettled, got.Status)
		assert.Equal(t, uint8(0), got.WinningOption)
		assert.Equal(t, int64(100), got.WinningPool.Int64(), "only the winning stakes aggregate")
		assert.Equal(t, int64(140), got.TotalPool.Int64())

		// Every bet now carries an encrypted winning stake: the loser's is an
		// encrypted zero, still a live handle rather than an absent value.
		loser, err := env.core.GetBet(ctx, m.ID, env.other.Address())
		require.NoError(t, err)
		assert.False(t, loser.WinningStake.IsZero())
		v, err := env.backend.Decrypt(ctx, loser.WinningStake)
		require.NoError(t, err)
		assert.Zero(t, v)
	})

	t.Run("NoBets", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)
		closeMarket(t, env, m.ID)

		require.NoError(t, env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 1))))
		got, err := env.core.GetMarket(ctx, m.ID)
		require.NoError(t, err)
		assert.Zero(t, got.WinningPool.Sign())
	})
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	claimOp := func(marketID uint64) domain.MarketOp {
		return domain.MarketOp{Kind: domain.OpClaimPayout, MarketID: marketID, Nonce: 300}
	}

	// settled builds a market with three positions and resolves option 0:
	// bettor and other stake 100 each on the winner, creator stakes 100 on
	// the loser. Pool 300, fee 2.5% = 7 wei (floored), distributable 293,
	// winning pool 200.
	settled := func(t *testing.T) (*testEnv, uint64) {
		t.Helper()
		env := newTestEnv(t)
		m := env.createMarket(t)

		_, err := env.placeBet(t, env.bettor, m.ID, 0, 100)
		require.NoError(t, err)
		_, err = env.placeBet(t, env.other, m.ID, 0, 100)
		require.NoError(t, err)
		_, err = env.placeBet(t, env.creator, m.ID, 1, 100)
		require.NoError(t, err)

		closeMarket(t, env, m.ID)
		require.NoError(t, env.core.SettleMarket(ctx, signedOp(t, env.creator, settleOp(m.ID, 0))))
		return env, m.ID
	}

	t.Run("WinnerPaidProRata", func(t *testing.T) {
		env, id := settled(t)

		receipt, err := env.core.Claim(ctx, signedOp(t, env.bettor, claimOp(id)))
		require.NoError(t, err)
		// 100 * 293 / 200 floors to 146; the remainder stays with the platform.
		assert.Equal(t, int64(146), receipt.PayoutWei.Int64())
	})

	t.Run("LoserGetsZero", func(t *testing.T) {
		env, id := settled(t)

		receipt, err := env.core.Claim(ctx, signedOp(t, env.creator, claimOp(id)))
		require.NoError(t, err)
		assert.Zero(t, receipt.PayoutWei.Sign())
	})

	t.Run("ExactlyOnce", func(t *testing.T) {
		env, id := settled(t)

		_, err := env.core.Claim(ctx, signedOp(t, env.bettor, claimOp(id)))
		require.NoError(t, err)
		_, err = env.core.Claim(ctx, signedOp(t, env.bettor, claimOp(id)))
		assert.ErrorIs(t, err, domain.ErrAlreadyClaimed)
	})

	t.Run("NotSettled", func(t *testing.T) {
		env := newTestEnv(t)
		m := env.createMarket(t)
		_, err := env.placeBet(t, env.bettor, m.ID, 0, 100)
		require.NoError(t, err)

		_, err = env.core.Claim(ctx, signedOp(t, env.bettor, claimOp(m.ID)))
		assert.ErrorIs(t, err, domain.ErrNotSettled)
	})

	t.Run("NoPosition", func(t *testing.T) {
		env, id := settled(t)

		op := domain.MarketOp{Kind: domain.OpClaimPayout, MarketID: id, Nonce: 300}
		stranger := env.mustSigner(t, "8b3a350cf5c34c9194ca85829a2df0ec3153be0318b5e2d3348e872092edffba")
		_, err := env.core.Claim(ctx, signedOp(t, stranger, op))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestPayoutFor(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name        string
		stake       int64
		totalPool   int64
		winningPool int64
		want        int64
	}{
		{"ZeroStake", 0, 300, 200, 0},
		{"EmptyWinningPool", 100, 300, 0, 0},
		{"ProRataFloor", 100, 300, 200, 146},
		{"SoleWinnerTakesDistributable", 200, 300, 200, 293},
		{"TinyPoolFloors", 1, 3, 2, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := env.core.payoutFor(
				big.NewInt(tc.stake),
				big.NewInt(tc.totalPool),
				big.NewInt(tc.winningPool),
			)
			assert.Equal(t, tc.want, got.Int64())
		})
	}
}

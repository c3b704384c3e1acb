package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/google/uuid"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// feeDenominator is the basis-point divisor for the platform fee.
const feeDenominator = 10_000

// SettleMarket resolves a Closed market to a winning option. Only the oracle
// may settle. Resolution walks every bet and homomorphically selects each
// bettor's stake-if-won without decrypting options or amounts individually;
// only the aggregate winning pool is decrypted through the gateway.
func (c *Core) SettleMarket(ctx context.Context, op domain.MarketOp) error {
	caller, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return err
	}

	unlock, err := c.acquireTransitionLock(ctx, op.MarketID)
	if err != nil {
		return err
	}
	defer unlock()

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return err
	}
	if caller != m.Oracle {
		return domain.ErrUnauthorized
	}
	if m.Status != domain.MarketStatusClosed {
		return domain.ErrNotClosed
	}
	if !m.ValidOption(op.WinningOption) {
		return domain.ErrInvalidOption
	}

	winningPool, err := c.resolveBets(ctx, m.ID, op.WinningOption)
	if err != nil {
		return fmt.Errorf("ledger: resolve bets for market %d: %w", m.ID, err)
	}

	m.Status = domain.MarketStatusSettled
	m.WinningOption = op.WinningOption
	m.WinningPool = winningPool
	m.UpdatedAt = c.now()
	if err := c.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("ledger: settle market: %w", err)
	}

	c.logger.InfoContext(ctx, "market settled",
		slog.Uint64("market_id", m.ID),
		slog.Int("winning_option", int(op.WinningOption)),
		slog.String("pool_wei", m.TotalPool.String()),
		slog.String("winning_pool_wei", winningPool.String()),
	)
	c.auditLog(ctx, "market_settled", map[string]any{
		"market_id":      m.ID,
		"oracle":         caller.Hex(),
		"winning_option": op.WinningOption,
	})
	win := op.WinningOption
	c.publish(ctx, domain.MarketEvent{
		Type:          domain.EventMarketSettled,
		MarketID:      m.ID,
		Status:        m.Status.String(),
		WinningOption: &win,
		TotalPoolWei:  m.TotalPool.String(),
		At:            m.UpdatedAt,
	})
	c.cacheSet(ctx, m)
	return nil
}

// resolveBets computes, for every bet, an encrypted winning stake:
//
//	matched      = Eq(optionHandle, winningOption)
//	winningStake = Select(matched, amountHandle, zero)
//
// and accumulates the winning stakes homomorphically. The aggregate alone is
// decrypted and returned; individual stakes stay encrypted until the owning
// bettor claims.
func (c *Core) resolveBets(ctx context.Context, marketID uint64, winning uint8) (*big.Int, error) {
	bets, err := c.bets.ListByMarket(ctx, marketID)
	if err != nil {
		return nil, err
	}

	zero, err := c.cop.EncryptScalar(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("encrypt zero: %w", err)
	}

	total := zero
	for i := range bets {
		bet := &bets[i]

		matched, err := c.cop.Eq(ctx, bet.OptionHandle, uint64(winning))
		if err != nil {
			return nil, fmt.Errorf("eq for bettor %s: %w", bet.Bettor.Hex(), err)
		}
		stake, err := c.cop.Select(ctx, matched, bet.AmountHandle, zero)
		if err != nil {
			return nil, fmt.Errorf("select for bettor %s: %w", bet.Bettor.Hex(), err)
		}

		bet.WinningStake = stake
		if err := c.bets.Upsert(ctx, *bet); err != nil {
			return nil, fmt.Errorf("store winning stake: %w", err)
		}

		total, err = c.cop.Add(ctx, total, stake)
		if err != nil {
			return nil, fmt.Errorf("accumulate winning pool: %w", err)
		}
	}

	decrypted, err := c.cop.Decrypt(ctx, total)
	if err != nil {
		return nil, fmt.Errorf("decrypt winning pool: %w", err)
	}
	return new(big.Int).SetUint64(decrypted), nil
}

// Claim pays a bettor their proportional share of a settled market's pool.
// Losing bettors receive zero. Exactly-once per bettor; a second claim fails
// with ErrAlreadyClaimed.
func (c *Core) Claim(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	bettor, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if m.Status != domain.MarketStatusSettled {
		return domain.TxReceipt{}, domain.ErrNotSettled
	}

	bet, err := c.bets.Get(ctx, op.MarketID, bettor)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if bet.Claimed {
		return domain.TxReceipt{}, domain.ErrAlreadyClaimed
	}

	stake, err := c.cop.Decrypt(ctx, bet.WinningStake)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: decrypt winning stake: %w", err)
	}

	payout := c.payoutFor(new(big.Int).SetUint64(stake), m.TotalPool, m.WinningPool)

	if err := c.bets.MarkClaimed(ctx, op.MarketID, bettor); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: mark claimed: %w", err)
	}

	c.logger.InfoContext(ctx, "payout claimed",
		slog.Uint64("market_id", m.ID),
		slog.String("bettor", bettor.Hex()),
		slog.String("payout_wei", payout.String()),
	)
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventPayoutClaimed,
		MarketID: m.ID,
		Status:   m.Status.String(),
		At:       c.now(),
	})

	return domain.TxReceipt{
		ID:        uuid.New().String(),
		MarketID:  m.ID,
		PayoutWei: payout,
	}, nil
}

// payoutFor computes a winner's share in integer wei:
//
//	fee           = totalPool * feeBps / 10000        (floor)
//	distributable = totalPool - fee
//	payout        = stake * distributable / winningPool (floor)
//
// Rounding policy: both divisions floor, and every remainder accrues to the
// platform treasury. When nobody picked the winning option the whole
// distributable pool stays with the platform.
func (c *Core) payoutFor(stake, totalPool, winningPool *big.Int) *big.Int {
	if stake.Sign() == 0 || winningPool == nil || winningPool.Sign() == 0 {
		return big.NewInt(0)
	}

	fee := new(big.Int).Mul(totalPool, big.NewInt(c.cfg.PlatformFeeBps))
	fee.Div(fee, big.NewInt(feeDenominator))
	distributable := new(big.Int).Sub(totalPool, fee)

	payout := new(big.Int).Mul(stake, distributable)
	payout.Div(payout, winningPool)
	return payout
}

// marshalEvent encodes a MarketEvent for the signal bus.
func marshalEvent(ev domain.MarketEvent) ([]byte, error) {
	return json.Marshal(ev)
}

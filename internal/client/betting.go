package client

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// maxEncryptableWei is the largest amount a single euint64 ciphertext can
// carry.
var maxEncryptableWei = new(big.Int).SetUint64(math.MaxUint64)

// PlaceBet encrypts and submits a bet of amountEth ether on the given option.
// The whole flow is one atomic submission: both ciphertext handles and their
// shared proof travel together with the attached value, and the node either
// records the full bet or rejects it.
//
// At most one submission per market may be in flight; a concurrent call for
// the same market fails fast with ErrSubmissionInFlight.
func (c *Client) PlaceBet(ctx context.Context, marketID uint64, option uint8, amountEth string) (domain.TxReceipt, error) {
	signer, err := c.requireWallet()
	if err != nil {
		return domain.TxReceipt{}, err
	}

	wei, err := ParseEther(amountEth)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if wei.Sign() <= 0 {
		return domain.TxReceipt{}, fmt.Errorf("client: %w: amount must be positive", domain.ErrAmountOutOfBounds)
	}
	if wei.Cmp(maxEncryptableWei) > 0 {
		return domain.TxReceipt{}, fmt.Errorf("client: %w: %s wei exceeds encryptable range", domain.ErrAmountOutOfBounds, wei)
	}

	if !c.inflight.begin(marketID) {
		return domain.TxReceipt{}, domain.ErrSubmissionInFlight
	}
	defer c.inflight.end(marketID)

	bundle, err := c.engine.EncryptBet(ctx, c.cfg.BettingContract, signer.Address(), option, wei.Uint64())
	if err != nil {
		return domain.TxReceipt{}, err
	}

	sub := domain.BetSubmission{
		MarketID:     marketID,
		OptionHandle: bundle.Handles[0],
		AmountHandle: bundle.Handles[1],
		Proof:        bundle.Proof,
		Value:        wei,
		Nonce:        c.nextNonce(),
	}
	if err := signer.SignBet(&sub); err != nil {
		return domain.TxReceipt{}, err
	}

	receipt, err := c.transport.SubmitBet(ctx, sub)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	c.logger.InfoContext(ctx, "bet placed",
		slog.Uint64("market_id", marketID),
		slog.String("value_wei", wei.String()),
		slog.String("receipt_id", receipt.ID),
	)
	return receipt, nil
}

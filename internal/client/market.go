package client

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// CreateMarketParams are the caller-supplied parameters for a new market.
// Bet bounds are decimal ether strings; the creation fee is attached
// automatically.
type CreateMarketParams struct {
	Question  string
	Options   []string
	EndTime   time.Time
	MinBetEth string
	MaxBetEth string
}

// CreateMarket submits a signed market creation, attaching the node's
// current creation fee.
func (c *Client) CreateMarket(ctx context.Context, p CreateMarketParams) (domain.TxReceipt, error) {
	signer, err := c.requireWallet()
	if err != nil {
		return domain.TxReceipt{}, err
	}

	minBet, err := ParseEther(p.MinBetEth)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	maxBet, err := ParseEther(p.MaxBetEth)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	fee, err := c.transport.CreationFee(ctx)
	if err != nil {
		return domain.TxReceipt{}, fmt.Errorf("client: fetch creation fee: %w", err)
	}

	op := domain.MarketOp{
		Kind:     domain.OpCreateMarket,
		Question: p.Question,
		Options:  p.Options,
		EndTime:  p.EndTime.Unix(),
		MinBet:   minBet,
		MaxBet:   maxBet,
		Value:    fee,
		Nonce:    c.nextNonce(),
	}
	if err := signer.SignOp(&op); err != nil {
		return domain.TxReceipt{}, err
	}
	return c.transport.SubmitOp(ctx, op)
}

// CloseMarket submits a signed close for the given market.
func (c *Client) CloseMarket(ctx context.Context, marketID uint64) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:     domain.OpCloseMarket,
		MarketID: marketID,
	})
}

// SettleMarket submits a signed settlement declaring the winning option.
// Only the market's oracle will be accepted.
func (c *Client) SettleMarket(ctx context.Context, marketID uint64, winningOption uint8) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:          domain.OpSettleMarket,
		MarketID:      marketID,
		WinningOption: winningOption,
	})
}

// CancelMarket submits a signed cancellation with an operator-visible reason.
func (c *Client) CancelMarket(ctx context.Context, marketID uint64, reason string) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:     domain.OpCancelMarket,
		MarketID: marketID,
		Reason:   reason,
	})
}

// ChangeOracle submits a signed oracle reassignment.
func (c *Client) ChangeOracle(ctx context.Context, marketID uint64, newOracle common.Address) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:      domain.OpChangeOracle,
		MarketID:  marketID,
		NewOracle: newOracle.Hex(),
	})
}

// RefundBet reclaims the caller's deposit from a cancelled market.
func (c *Client) RefundBet(ctx context.Context, marketID uint64) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:     domain.OpRefundBet,
		MarketID: marketID,
	})
}

// ClaimPayout collects the caller's winnings from a settled market.
func (c *Client) ClaimPayout(ctx context.Context, marketID uint64) (domain.TxReceipt, error) {
	return c.submitOp(ctx, domain.MarketOp{
		Kind:     domain.OpClaimPayout,
		MarketID: marketID,
	})
}

func (c *Client) submitOp(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	signer, err := c.requireWallet()
	if err != nil {
		return domain.TxReceipt{}, err
	}
	op.Nonce = c.nextNonce()
	if err := signer.SignOp(&op); err != nil {
		return domain.TxReceipt{}, err
	}
	return c.transport.SubmitOp(ctx, op)
}

// Market fetches a single market.
func (c *Client) Market(ctx context.Context, id uint64) (domain.Market, error) {
	return c.transport.Market(ctx, id)
}

// ActiveMarkets lists markets open for betting.
func (c *Client) ActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return c.transport.ActiveMarkets(ctx, opts)
}

// MyMarkets lists markets created by the connected wallet.
func (c *Client) MyMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	if c.signer == nil {
		return nil, domain.ErrWalletNotConnected
	}
	return c.transport.MarketsByCreator(ctx, c.signer.Address(), opts)
}

// BettorCount fetches the number of distinct bettors on a market.
func (c *Client) BettorCount(ctx context.Context, id uint64) (uint64, error) {
	return c.transport.BettorCount(ctx, id)
}

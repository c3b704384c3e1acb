// Package client is the bettor-facing SDK: it encrypts bet fields through
// the fhe engine, signs submissions and market operations with the connected
// wallet, and carries them to a market node over a Transport.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
	"github.com/veilmarket/veilmarket/internal/fhe"
)

// Config holds the fixed parameters of a Client.
type Config struct {
	// BettingContract is the checksummed address ciphertext bundles are bound
	// to. Must match the node's configured contract.
	BettingContract string

	ChainID int
}

// Client submits encrypted bets and market operations on behalf of one
// wallet. The signer may be nil: read operations still work, and writes fail
// with ErrWalletNotConnected.
type Client struct {
	cfg       Config
	engine    *fhe.Engine
	signer    *crypto.Signer
	transport Transport
	logger    *slog.Logger

	inflight *inflightGuard
	nonce    atomic.Uint64
}

// New creates a Client. engine and transport are required; signer is optional
// and can be attached later with Connect.
func New(cfg Config, engine *fhe.Engine, transport Transport, signer *crypto.Signer, logger *slog.Logger) (*Client, error) {
	if engine == nil {
		return nil, fmt.Errorf("client: engine is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("client: transport is required")
	}
	if _, err := fhe.ValidateAddress(cfg.BettingContract); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:       cfg,
		engine:    engine,
		signer:    signer,
		transport: transport,
		logger:    logger,
		inflight:  newInflightGuard(),
	}
	// Seed nonces from the clock so a restarted client does not reuse the
	// values of its previous run.
	c.nonce.Store(uint64(time.Now().UnixNano()))
	return c, nil
}

// Connect attaches a signing wallet to the client.
func (c *Client) Connect(signer *crypto.Signer) {
	c.signer = signer
}

// Connected reports whether a signing wallet is attached.
func (c *Client) Connected() bool {
	return c.signer != nil
}

// Address returns the connected wallet address, or the zero address when no
// wallet is attached.
func (c *Client) Address() common.Address {
	if c.signer == nil {
		return common.Address{}
	}
	return c.signer.Address()
}

// nextNonce hands out a strictly increasing nonce for signed payloads.
func (c *Client) nextNonce() uint64 {
	return c.nonce.Add(1)
}

// requireWallet returns the attached signer or ErrWalletNotConnected.
func (c *Client) requireWallet() (*crypto.Signer, error) {
	if c.signer == nil {
		return nil, domain.ErrWalletNotConnected
	}
	return c.signer, nil
}

// CreationFee returns the flat fee the node charges to create a market.
func (c *Client) CreationFee(ctx context.Context) (*big.Int, error) {
	return c.transport.CreationFee(ctx)
}

// Package fhe provides the ciphertext builder and the homomorphic
// coprocessor surface. The Engine turns plaintext bet fields into opaque
// handle/proof bundles bound to a (contract, user) pair; the coprocessor
// implementations execute encrypted arithmetic for the ledger.
package fhe

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/singleflight"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Encryptor is the backend that actually produces ciphertext handles and
// binding proofs. RelayerClient implements it against the remote encryption
// service; LocalBackend implements it in-process for development.
type Encryptor interface {
	// Init performs the backend's one-time setup (key material fetch).
	Init(ctx context.Context) error

	// EncryptInput encrypts the ordered fields for the given contract/user
	// pair and returns one handle per field plus a single binding proof.
	EncryptInput(ctx context.Context, contract, user common.Address, fields []domain.Field) ([]domain.Handle, []byte, error)
}

// Engine is the process-lifecycle encryption handle. It is constructed once
// at session start and passed by reference into every operation that needs
// encryption; configuration is fixed at construction and never mutated.
//
// Initialization is memoized: the first caller triggers the backend setup,
// concurrent callers await the same in-flight attempt, and a failed attempt
// is not cached so a later call retries from scratch.
type Engine struct {
	chainID int
	backend Encryptor

	initGroup singleflight.Group
	ready     atomic.Bool
}

// NewEngine creates an Engine bound to a single target chain and encryption
// backend. The engine performs no network activity until the first encrypt
// call (or an explicit Init).
func NewEngine(chainID int, backend Encryptor) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("fhe: %w: no encryption backend configured", domain.ErrSDKLoad)
	}
	if chainID <= 0 {
		return nil, fmt.Errorf("fhe: chain id must be positive, got %d", chainID)
	}
	return &Engine{chainID: chainID, backend: backend}, nil
}

// ChainID returns the chain the engine was configured for.
func (e *Engine) ChainID() int {
	return e.chainID
}

// Init performs the one-time backend initialization. Safe to call
// concurrently and repeatedly; only the first successful call does work.
func (e *Engine) Init(ctx context.Context) error {
	if e.ready.Load() {
		return nil
	}

	// Collapse concurrent callers into one in-flight attempt. Errors are not
	// memoized: Do returns the shared error to everyone waiting, and the next
	// call after that starts a fresh attempt.
	_, err, _ := e.initGroup.Do("init", func() (any, error) {
		if e.ready.Load() {
			return nil, nil
		}
		if err := e.backend.Init(ctx); err != nil {
			return nil, fmt.Errorf("fhe: %w: %v", domain.ErrSDKLoad, err)
		}
		e.ready.Store(true)
		return nil, nil
	})
	return err
}

// CreateInput starts a ciphertext input builder for the given contract and
// user. The contract address must pass checksum validation.
func (e *Engine) CreateInput(contract string, user common.Address) (*InputBuilder, error) {
	addr, err := ValidateAddress(contract)
	if err != nil {
		return nil, err
	}
	return &InputBuilder{engine: e, contract: addr, user: user}, nil
}

// EncryptBet encrypts an option index and a wei amount in a single bundle
// with one shared proof. The multi-field bundle is the required form when
// both fields travel together: it is cheaper to verify than two independent
// single-field encryptions.
func (e *Engine) EncryptBet(ctx context.Context, contract string, user common.Address, option uint8, amountWei uint64) (domain.CiphertextBundle, error) {
	in, err := e.CreateInput(contract, user)
	if err != nil {
		return domain.CiphertextBundle{}, err
	}
	in.Add8(option)
	in.Add64(amountWei)
	return in.Encrypt(ctx)
}

// EncryptOption encrypts a bare option index. Used when the amount travels
// separately or stays plaintext.
func (e *Engine) EncryptOption(ctx context.Context, contract string, user common.Address, option uint8) (domain.CiphertextBundle, error) {
	in, err := e.CreateInput(contract, user)
	if err != nil {
		return domain.CiphertextBundle{}, err
	}
	in.Add8(option)
	return in.Encrypt(ctx)
}

// EncryptAmount encrypts a bare wei amount.
func (e *Engine) EncryptAmount(ctx context.Context, contract string, user common.Address, amountWei uint64) (domain.CiphertextBundle, error) {
	in, err := e.CreateInput(contract, user)
	if err != nil {
		return domain.CiphertextBundle{}, err
	}
	in.Add64(amountWei)
	return in.Encrypt(ctx)
}

// ValidateAddress parses a hex address and enforces EIP-55 checksum when the
// input is mixed-case. Returns domain.ErrInvalidAddress on failure.
func ValidateAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("fhe: %w: %q", domain.ErrInvalidAddress, s)
	}

	addr := common.HexToAddress(s)

	// All-lowercase and all-uppercase forms carry no checksum information.
	body := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if body == strings.ToLower(body) || body == strings.ToUpper(body) {
		return addr, nil
	}

	if addr.Hex() != "0x"+body {
		return common.Address{}, fmt.Errorf("fhe: %w: checksum mismatch for %q", domain.ErrInvalidAddress, s)
	}
	return addr, nil
}

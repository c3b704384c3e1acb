package domain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Coprocessor is the homomorphic compute surface the ledger drives. Handles
// reference ciphertexts held by the FHE backend; no operation ever reveals an
// individual plaintext except Decrypt, which the ledger only invokes on
// settlement aggregates and per-bettor winning stakes after resolution.
type Coprocessor interface {
	// VerifyInput checks that proof attests the given handles were built for
	// exactly this (contract, user) pair. Returns ErrInvalidProof otherwise.
	VerifyInput(ctx context.Context, proof []byte, handles []Handle, contract, user common.Address) error

	// EncryptScalar produces a trivially-encrypted handle for a known scalar,
	// used for the encrypted zero in settlement selection.
	EncryptScalar(ctx context.Context, value uint64) (Handle, error)

	// Add returns a handle to the homomorphic sum of a and b.
	Add(ctx context.Context, a, b Handle) (Handle, error)

	// Eq returns an encrypted boolean handle for (a == scalar).
	Eq(ctx context.Context, a Handle, scalar uint64) (Handle, error)

	// Select returns ifTrue when cond decrypts to true, ifFalse otherwise,
	// without revealing cond.
	Select(ctx context.Context, cond, ifTrue, ifFalse Handle) (Handle, error)

	// Decrypt reveals the plaintext behind a handle via the decryption
	// gateway. Restricted to settlement-time aggregates.
	Decrypt(ctx context.Context, h Handle) (uint64, error)
}

package domain

import "github.com/ethereum/go-ethereum/common"

// CiphertextBundle is the ephemeral artifact produced by the ciphertext
// builder: one handle per encrypted field plus a single proof binding every
// handle to the (contract, user) pair it was generated against. A bundle is
// single-use; the proof does not verify for any other contract or user.
type CiphertextBundle struct {
	Handles  []Handle
	Proof    []byte
	Contract common.Address
	User     common.Address
}

// FieldKind tags an encrypted input field with its bit width.
type FieldKind uint8

const (
	// FieldUint8 is an 8-bit field (option index).
	FieldUint8 FieldKind = 8
	// FieldUint64 is a 64-bit field (stake amount in wei).
	FieldUint64 FieldKind = 64
)

// Field is a single plaintext value queued for encryption.
type Field struct {
	Kind  FieldKind
	Value uint64
}

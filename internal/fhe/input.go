package fhe

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// maxInputFields caps the number of fields in one bundle. The relayer rejects
// oversized inputs; failing early keeps the error local.
const maxInputFields = 8

// InputBuilder accumulates plaintext fields for a single encrypted input.
// Fields are encrypted together, yielding one handle each and a single proof
// binding all of them to the builder's (contract, user) pair.
type InputBuilder struct {
	engine   *Engine
	contract common.Address
	user     common.Address
	fields   []domain.Field
}

// Add8 queues an 8-bit field (option index).
func (b *InputBuilder) Add8(v uint8) *InputBuilder {
	b.fields = append(b.fields, domain.Field{Kind: domain.FieldUint8, Value: uint64(v)})
	return b
}

// Add64 queues a 64-bit field (wei amount).
func (b *InputBuilder) Add64(v uint64) *InputBuilder {
	b.fields = append(b.fields, domain.Field{Kind: domain.FieldUint64, Value: v})
	return b
}

// AddField queues a field of an arbitrary supported kind.
func (b *InputBuilder) AddField(kind domain.FieldKind, v uint64) *InputBuilder {
	b.fields = append(b.fields, domain.Field{Kind: kind, Value: v})
	return b
}

// Encrypt initializes the engine if needed and encrypts all queued fields.
// The returned bundle is single-use: its proof verifies only for the exact
// contract and user the builder was created with.
func (b *InputBuilder) Encrypt(ctx context.Context) (domain.CiphertextBundle, error) {
	if len(b.fields) == 0 {
		return domain.CiphertextBundle{}, fmt.Errorf("fhe: no fields queued for encryption")
	}
	if len(b.fields) > maxInputFields {
		return domain.CiphertextBundle{}, fmt.Errorf("fhe: too many fields: %d (max %d)", len(b.fields), maxInputFields)
	}
	for _, f := range b.fields {
		if err := checkFieldRange(f); err != nil {
			return domain.CiphertextBundle{}, err
		}
	}

	if err := b.engine.Init(ctx); err != nil {
		return domain.CiphertextBundle{}, err
	}

	handles, proof, err := b.engine.backend.EncryptInput(ctx, b.contract, b.user, b.fields)
	if err != nil {
		return domain.CiphertextBundle{}, fmt.Errorf("fhe: encrypt input: %w", err)
	}
	if len(handles) != len(b.fields) {
		return domain.CiphertextBundle{}, fmt.Errorf("fhe: backend returned %d handles for %d fields", len(handles), len(b.fields))
	}

	return domain.CiphertextBundle{
		Handles:  handles,
		Proof:    proof,
		Contract: b.contract,
		User:     b.user,
	}, nil
}

// checkFieldRange rejects values that overflow the declared bit width before
// they reach the backend.
func checkFieldRange(f domain.Field) error {
	switch f.Kind {
	case domain.FieldUint8:
		if f.Value > 0xff {
			return fmt.Errorf("fhe: value %d overflows uint8 field", f.Value)
		}
	case domain.FieldUint64:
		// Full range of uint64 is representable.
	default:
		return fmt.Errorf("fhe: unsupported field kind %d", f.Kind)
	}
	return nil
}

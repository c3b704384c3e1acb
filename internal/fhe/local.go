package fhe

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// LocalBackend is an in-process stand-in for the remote relayer, used in
// development mode and tests. Handles are keccak commitments over a node
// secret and a counter; plaintexts live only inside this process. Proofs are
// keccak MACs over (contract, user, handles), so a bundle really does fail
// verification against any other contract or user.
//
// Not an FHE implementation. It preserves the protocol's observable
// semantics, not its cryptographic guarantees.
type LocalBackend struct {
	secret []byte

	mu     sync.Mutex
	values map[domain.Handle]uint64
	ctr    uint64
}

// NewLocalBackend creates a LocalBackend keyed by the given node secret.
func NewLocalBackend(secret []byte) *LocalBackend {
	return &LocalBackend{
		secret: append([]byte(nil), secret...),
		values: make(map[domain.Handle]uint64),
	}
}

// Init is a no-op for the local backend.
func (l *LocalBackend) Init(ctx context.Context) error {
	return nil
}

// newHandle mints a fresh handle and records its plaintext. Caller holds l.mu.
func (l *LocalBackend) newHandle(value uint64) domain.Handle {
	l.ctr++
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], l.ctr)

	var h domain.Handle
	copy(h[:], ethcrypto.Keccak256(l.secret, ctr[:]))
	l.values[h] = value
	return h
}

// lookup resolves a handle to its plaintext. Caller holds l.mu.
func (l *LocalBackend) lookup(h domain.Handle) (uint64, error) {
	v, ok := l.values[h]
	if !ok {
		return 0, fmt.Errorf("fhe/local: unknown handle %s", h.Hex())
	}
	return v, nil
}

// proofFor computes the binding MAC for a set of handles and a
// (contract, user) pair.
func (l *LocalBackend) proofFor(handles []domain.Handle, contract, user common.Address) []byte {
	parts := make([][]byte, 0, len(handles)+3)
	parts = append(parts, l.secret, contract.Bytes(), user.Bytes())
	for _, h := range handles {
		hh := h
		parts = append(parts, hh[:])
	}
	return ethcrypto.Keccak256(parts...)
}

// EncryptInput implements Encryptor.
func (l *LocalBackend) EncryptInput(ctx context.Context, contract, user common.Address, fields []domain.Field) ([]domain.Handle, []byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	handles := make([]domain.Handle, 0, len(fields))
	for _, f := range fields {
		handles = append(handles, l.newHandle(f.Value))
	}
	return handles, l.proofFor(handles, contract, user), nil
}

// VerifyInput implements domain.Coprocessor.
func (l *LocalBackend) VerifyInput(ctx context.Context, proof []byte, handles []domain.Handle, contract, user common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	expected := l.proofFor(handles, contract, user)
	if len(proof) != len(expected) {
		return domain.ErrInvalidProof
	}
	for i := range proof {
		if proof[i] != expected[i] {
			return domain.ErrInvalidProof
		}
	}
	for _, h := range handles {
		if _, err := l.lookup(h); err != nil {
			return domain.ErrInvalidProof
		}
	}
	return nil
}

// EncryptScalar implements domain.Coprocessor.
func (l *LocalBackend) EncryptScalar(ctx context.Context, value uint64) (domain.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.newHandle(value), nil
}

// Add implements domain.Coprocessor.
func (l *LocalBackend) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	av, err := l.lookup(a)
	if err != nil {
		return domain.Handle{}, err
	}
	bv, err := l.lookup(b)
	if err != nil {
		return domain.Handle{}, err
	}
	return l.newHandle(av + bv), nil
}

// Eq implements domain.Coprocessor.
func (l *LocalBackend) Eq(ctx context.Context, a domain.Handle, scalar uint64) (domain.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	av, err := l.lookup(a)
	if err != nil {
		return domain.Handle{}, err
	}
	var v uint64
	if av == scalar {
		v = 1
	}
	return l.newHandle(v), nil
}

// Select implements domain.Coprocessor.
func (l *LocalBackend) Select(ctx context.Context, cond, ifTrue, ifFalse domain.Handle) (domain.Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cv, err := l.lookup(cond)
	if err != nil {
		return domain.Handle{}, err
	}
	src := ifFalse
	if cv != 0 {
		src = ifTrue
	}
	v, err := l.lookup(src)
	if err != nil {
		return domain.Handle{}, err
	}
	return l.newHandle(v), nil
}

// Decrypt implements domain.Coprocessor.
func (l *LocalBackend) Decrypt(ctx context.Context, h domain.Handle) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lookup(h)
}

// Compile-time interface checks.
var (
	_ Encryptor          = (*LocalBackend)(nil)
	_ domain.Coprocessor = (*LocalBackend)(nil)
)

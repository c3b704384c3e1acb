package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// HandleLen is the byte length of a ciphertext handle.
const HandleLen = 32

// Handle is an opaque reference to a ciphertext held by the coprocessor. It
// is passed across the system boundary instead of the ciphertext itself.
type Handle [HandleLen]byte

// IsZero reports whether the handle is the all-zero value.
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// Hex returns the 0x-prefixed hex encoding of the handle.
func (h Handle) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

// HandleFromHex parses a 0x-prefixed (or bare) hex string into a Handle.
func HandleFromHex(s string) (Handle, error) {
	var h Handle
	b, err := hex.DecodeString(trim0x(s))
	if err != nil {
		return h, fmt.Errorf("domain: invalid handle hex: %w", err)
	}
	if len(b) != HandleLen {
		return h, fmt.Errorf("domain: handle must be %d bytes, got %d", HandleLen, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MarshalText implements encoding.TextMarshaler.
func (h Handle) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (h *Handle) UnmarshalText(text []byte) error {
	parsed, err := HandleFromHex(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

func trim0x(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// EncryptedBet is one bettor's accumulated position on one market. There is
// at most one row per (market, bettor): repeated submissions fold into the
// existing handles via homomorphic addition rather than creating duplicates.
//
// Deposited is the plaintext sum of attached values. It is the refundable
// unit on cancellation and feeds the public pool total; the logical option
// and amount stay encrypted until settlement.
type EncryptedBet struct {
	MarketID     uint64
	Bettor       common.Address
	OptionHandle Handle
	AmountHandle Handle
	Deposited    *big.Int
	SubmittedAt  time.Time
	UpdatedAt    time.Time
	Claimed      bool
	Refunded     bool

	// WinningStake is set during settlement resolution: an encrypted value
	// equal to the bettor's stake if they picked the winning option, zero
	// otherwise. Empty until the market settles.
	WinningStake Handle
}

// Consumed reports whether the bet has already been paid out or refunded.
func (b EncryptedBet) Consumed() bool {
	return b.Claimed || b.Refunded
}

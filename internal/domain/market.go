// Package domain defines the core types, errors, and persistence interfaces
// for the confidential prediction market: markets, encrypted bets, ciphertext
// bundles, and the homomorphic coprocessor surface the ledger relies on.
package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MarketStatus represents the lifecycle state of a market. The numeric values
// mirror the wire encoding (uint8) used by the ledger call surface.
type MarketStatus uint8

const (
	MarketStatusActive MarketStatus = iota
	MarketStatusClosed
	MarketStatusSettled
	MarketStatusCancelled
)

// String returns the lowercase name of the status.
func (s MarketStatus) String() string {
	switch s {
	case MarketStatusActive:
		return "active"
	case MarketStatusClosed:
		return "closed"
	case MarketStatusSettled:
		return "settled"
	case MarketStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s MarketStatus) Terminal() bool {
	return s == MarketStatusSettled || s == MarketStatusCancelled
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// step. Transitions are monotonic: Active -> Closed -> Settled, with
// cancellation allowed from Active or Closed.
func (s MarketStatus) CanTransition(next MarketStatus) bool {
	switch s {
	case MarketStatusActive:
		return next == MarketStatusClosed || next == MarketStatusCancelled
	case MarketStatusClosed:
		return next == MarketStatusSettled || next == MarketStatusCancelled
	default:
		return false
	}
}

// Option count bounds for a market.
const (
	MinOptions = 2
	MaxOptions = 10
)

// Market is a single prediction question with its betting parameters and
// lifecycle state. The total pool is plaintext by design: the aggregate stake
// is public, only the attribution of individual bets stays encrypted.
type Market struct {
	ID            uint64
	Creator       common.Address
	Question      string
	Options       []string
	EndTime       time.Time
	Oracle        common.Address
	Status        MarketStatus
	WinningOption uint8 // valid only when Status == Settled
	TotalPool     *big.Int
	WinningPool   *big.Int // decrypted aggregate of winning stakes, set at settlement
	MinBet        *big.Int
	MaxBet        *big.Int
	BettorCount   uint64
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidOption reports whether idx indexes into the market's option list.
func (m Market) ValidOption(idx uint8) bool {
	return int(idx) < len(m.Options)
}

// Ended reports whether the market's end time has passed at the given instant.
func (m Market) Ended(now time.Time) bool {
	return !now.Before(m.EndTime)
}

package domain

import (
	"math/big"
)

// BetSubmission is the single atomic call that places an encrypted bet: both
// ciphertext handles, the proof binding them, the plaintext attached value,
// and a signature recovering the bettor's address. Either the whole
// submission is accepted and the bet recorded, or it is rejected outright.
type BetSubmission struct {
	MarketID     uint64   `json:"market_id"`
	OptionHandle Handle   `json:"encrypted_option"`
	AmountHandle Handle   `json:"encrypted_amount"`
	Proof        []byte   `json:"proof"`
	Value        *big.Int `json:"value"`
	Nonce        uint64   `json:"nonce"`
	Signature    []byte   `json:"signature"`
}

// OpKind identifies a market operation on the ledger call surface.
type OpKind string

const (
	OpCreateMarket OpKind = "create_market"
	OpChangeOracle OpKind = "change_oracle"
	OpCloseMarket  OpKind = "close_market"
	OpSettleMarket OpKind = "settle_market"
	OpCancelMarket OpKind = "cancel_market"
	OpRefundBet    OpKind = "refund_bet"
	OpClaimPayout  OpKind = "claim_payout"
)

// MarketOp is a signed market operation envelope. Fields beyond Kind and
// MarketID are populated per operation, mirroring the typed arguments of the
// ledger call surface. The signature recovers the caller's address.
type MarketOp struct {
	Kind     OpKind `json:"kind"`
	MarketID uint64 `json:"market_id,omitempty"`

	// create_market
	Question string   `json:"question,omitempty"`
	Options  []string `json:"options,omitempty"`
	EndTime  int64    `json:"end_time,omitempty"` // unix seconds
	MinBet   *big.Int `json:"min_bet,omitempty"`
	MaxBet   *big.Int `json:"max_bet,omitempty"`
	Value    *big.Int `json:"value,omitempty"` // attached creation fee

	// change_oracle
	NewOracle string `json:"new_oracle,omitempty"`

	// settle_market
	WinningOption uint8 `json:"winning_option,omitempty"`

	// cancel_market
	Reason string `json:"reason,omitempty"`

	Nonce     uint64 `json:"nonce"`
	Signature []byte `json:"signature"`
}

// TxReceipt reports the outcome of an accepted submission.
type TxReceipt struct {
	ID        string   `json:"id"`
	MarketID  uint64   `json:"market_id"`
	PayoutWei *big.Int `json:"payout_wei,omitempty"`
}

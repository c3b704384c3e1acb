package domain

import "time"

// Event channels published on the signal bus.
const (
	ChannelMarkets = "ch:markets"
	ChannelBets    = "ch:bets"
)

// EventType identifies a market lifecycle event.
type EventType string

const (
	EventMarketCreated   EventType = "market_created"
	EventMarketClosed    EventType = "market_closed"
	EventMarketSettled   EventType = "market_settled"
	EventMarketCancelled EventType = "market_cancelled"
	EventOracleChanged   EventType = "oracle_changed"
	EventBetPlaced       EventType = "bet_placed"
	EventBetRefunded     EventType = "bet_refunded"
	EventPayoutClaimed   EventType = "payout_claimed"
)

// MarketEvent is the JSON payload broadcast on the signal bus whenever a
// market changes state. Bettor-level events carry the aggregate pool only;
// individual option and amount never appear here.
type MarketEvent struct {
	Type          EventType `json:"type"`
	MarketID      uint64    `json:"market_id"`
	Status        string    `json:"status"`
	WinningOption *uint8    `json:"winning_option,omitempty"`
	TotalPoolWei  string    `json:"total_pool_wei,omitempty"`
	BettorCount   uint64    `json:"bettor_count,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	At            time.Time `json:"at"`
}

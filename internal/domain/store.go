package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// MarketStore persists market state. NextID hands out monotonically
// increasing market ids.
type MarketStore interface {
	NextID(ctx context.Context) (uint64, error)
	Create(ctx context.Context, market Market) error
	Update(ctx context.Context, market Market) error
	GetByID(ctx context.Context, id uint64) (Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
	ListByCreator(ctx context.Context, creator common.Address, opts ListOpts) ([]Market, error)
	ListByStatus(ctx context.Context, status MarketStatus, opts ListOpts) ([]Market, error)
	Count(ctx context.Context) (int64, error)
}

// BetStore persists encrypted bets, one row per (market, bettor).
type BetStore interface {
	Upsert(ctx context.Context, bet EncryptedBet) error
	Get(ctx context.Context, marketID uint64, bettor common.Address) (EncryptedBet, error)
	ListByMarket(ctx context.Context, marketID uint64) ([]EncryptedBet, error)
	CountByMarket(ctx context.Context, marketID uint64) (uint64, error)
	MarkClaimed(ctx context.Context, marketID uint64, bettor common.Address) error
	MarkRefunded(ctx context.Context, marketID uint64, bettor common.Address) error
}

// AuditEntry is a single append-only audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists the append-only audit log (oracle changes, settlements,
// cancellation reasons).
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

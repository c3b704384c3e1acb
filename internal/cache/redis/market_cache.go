package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/veilmarket/veilmarket/internal/domain"
)

const (
	marketTTL    = 5 * time.Minute
	activeIDsTTL = 30 * time.Second
)

// MarketCache implements domain.MarketCache with JSON-serialized market
// snapshots and a short-lived active-id projection.
//
// Key schema:
//
//	market:{id}    - JSON snapshot of the market
//	markets:active - JSON array of active market ids
type MarketCache struct {
	rdb *redis.Client
}

// NewMarketCache creates a MarketCache backed by the given Client.
func NewMarketCache(c *Client) *MarketCache {
	return &MarketCache{rdb: c.Underlying()}
}

func marketKey(id uint64) string { return "market:" + strconv.FormatUint(id, 10) }

const activeIDsKey = "markets:active"

// cachedMarket is the wire form of a market snapshot. Pools are rendered as
// decimal strings so wei amounts survive the JSON round trip untouched.
type cachedMarket struct {
	ID            uint64    `json:"id"`
	Creator       string    `json:"creator"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	EndTime       time.Time `json:"end_time"`
	Oracle        string    `json:"oracle"`
	Status        uint8     `json:"status"`
	WinningOption uint8     `json:"winning_option"`
	TotalPool     string    `json:"total_pool_wei"`
	WinningPool   string    `json:"winning_pool_wei"`
	MinBet        string    `json:"min_bet_wei"`
	MaxBet        string    `json:"max_bet_wei"`
	BettorCount   uint64    `json:"bettor_count"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Set stores a market snapshot with a 5-minute TTL.
func (mc *MarketCache) Set(ctx context.Context, market domain.Market) error {
	data, err := json.Marshal(toCached(market))
	if err != nil {
		return fmt.Errorf("redis: marshal market %d: %w", market.ID, err)
	}
	if err := mc.rdb.Set(ctx, marketKey(market.ID), data, marketTTL).Err(); err != nil {
		return fmt.Errorf("redis: set market %d: %w", market.ID, err)
	}
	return nil
}

// Get retrieves a market snapshot by id. It returns domain.ErrNotFound when
// the key does not exist or has expired.
func (mc *MarketCache) Get(ctx context.Context, id uint64) (domain.Market, error) {
	data, err := mc.rdb.Get(ctx, marketKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("redis: get market %d: %w", id, err)
	}

	var cm cachedMarket
	if err := json.Unmarshal(data, &cm); err != nil {
		return domain.Market{}, fmt.Errorf("redis: unmarshal market %d: %w", id, err)
	}
	return fromCached(cm), nil
}

// SetActiveIDs stores the current active market id projection with a short
// TTL so the listing endpoint can skip the database on hot paths.
func (mc *MarketCache) SetActiveIDs(ctx context.Context, ids []uint64) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("redis: marshal active ids: %w", err)
	}
	if err := mc.rdb.Set(ctx, activeIDsKey, data, activeIDsTTL).Err(); err != nil {
		return fmt.Errorf("redis: set active ids: %w", err)
	}
	return nil
}

// GetActiveIDs retrieves the active market id projection. It returns
// domain.ErrNotFound when the projection is absent or stale.
func (mc *MarketCache) GetActiveIDs(ctx context.Context) ([]uint64, error) {
	data, err := mc.rdb.Get(ctx, activeIDsKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get active ids: %w", err)
	}

	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("redis: unmarshal active ids: %w", err)
	}
	return ids, nil
}

// Invalidate removes a market snapshot and the active-id projection, which
// may now be stale.
func (mc *MarketCache) Invalidate(ctx context.Context, id uint64) error {
	if err := mc.rdb.Del(ctx, marketKey(id), activeIDsKey).Err(); err != nil {
		return fmt.Errorf("redis: invalidate market %d: %w", id, err)
	}
	return nil
}

func toCached(m domain.Market) cachedMarket {
	return cachedMarket{
		ID:            m.ID,
		Creator:       m.Creator.Hex(),
		Question:      m.Question,
		Options:       m.Options,
		EndTime:       m.EndTime,
		Oracle:        m.Oracle.Hex(),
		Status:        uint8(m.Status),
		WinningOption: m.WinningOption,
		TotalPool:     bigString(m.TotalPool),
		WinningPool:   bigString(m.WinningPool),
		MinBet:        bigString(m.MinBet),
		MaxBet:        bigString(m.MaxBet),
		BettorCount:   m.BettorCount,
		CancelReason:  m.CancelReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func fromCached(cm cachedMarket) domain.Market {
	return domain.Market{
		ID:            cm.ID,
		Creator:       common.HexToAddress(cm.Creator),
		Question:      cm.Question,
		Options:       cm.Options,
		EndTime:       cm.EndTime,
		Oracle:        common.HexToAddress(cm.Oracle),
		Status:        domain.MarketStatus(cm.Status),
		WinningOption: cm.WinningOption,
		TotalPool:     bigFromString(cm.TotalPool),
		WinningPool:   bigFromString(cm.WinningPool),
		MinBet:        bigFromString(cm.MinBet),
		MaxBet:        bigFromString(cm.MaxBet),
		BettorCount:   cm.BettorCount,
		CancelReason:  cm.CancelReason,
		CreatedAt:     cm.CreatedAt,
		UpdatedAt:     cm.UpdatedAt,
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func bigFromString(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// Compile-time interface check.
var _ domain.MarketCache = (*MarketCache)(nil)

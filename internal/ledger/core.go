// Package ledger implements the authoritative market state machine: market
// creation and lifecycle transitions, encrypted-bet accumulation, settlement
// resolution, and the claim/refund paths. All mutating operations are
// serialized per market; conflicting transitions observe already-mutated
// state and fail their precondition checks.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// Config holds the ledger's deployment-time parameters. None of these change
// per market.
type Config struct {
	// ChainID scopes submission signatures to this deployment.
	ChainID int

	// BettingContract is the address ciphertext proofs must be bound to.
	BettingContract common.Address

	// CreationFee is the payable fee for createMarket, in wei.
	CreationFee *big.Int

	// PlatformFeeBps is the settlement fee in basis points (200 = 2%).
	PlatformFeeBps int64
}

// Core is the market state machine. It owns no goroutines; every method is a
// single logical transaction over the stores.
type Core struct {
	cfg     Config
	markets domain.MarketStore
	bets    domain.BetStore
	audit   domain.AuditStore
	cop     domain.Coprocessor
	cache   domain.MarketCache // optional
	bus     domain.SignalBus   // optional
	locks   domain.LockManager // optional, for cross-instance transitions
	logger  *slog.Logger

	// now is swappable for tests.
	now func() time.Time

	// Per-market serialization within this process.
	muMu sync.Mutex
	mus  map[uint64]*sync.Mutex
}

// New creates a Core. cache, bus, and locks may be nil; the corresponding
// behaviors (read caching, event publication, distributed locking) are then
// skipped.
func New(cfg Config, markets domain.MarketStore, bets domain.BetStore, audit domain.AuditStore,
	cop domain.Coprocessor, cache domain.MarketCache, bus domain.SignalBus, locks domain.LockManager,
	logger *slog.Logger) (*Core, error) {

	if cfg.ChainID <= 0 {
		return nil, fmt.Errorf("ledger: chain id must be positive")
	}
	if cfg.CreationFee == nil || cfg.CreationFee.Sign() < 0 {
		return nil, fmt.Errorf("ledger: creation fee must be set and non-negative")
	}
	if cfg.PlatformFeeBps < 0 || cfg.PlatformFeeBps > 10_000 {
		return nil, fmt.Errorf("ledger: platform fee bps must be in [0,10000], got %d", cfg.PlatformFeeBps)
	}
	if cop == nil {
		return nil, fmt.Errorf("ledger: coprocessor is required")
	}

	return &Core{
		cfg:     cfg,
		markets: markets,
		bets:    bets,
		audit:   audit,
		cop:     cop,
		cache:   cache,
		bus:     bus,
		locks:   locks,
		logger:  logger.With(slog.String("component", "ledger")),
		now:     time.Now,
		mus:     make(map[uint64]*sync.Mutex),
	}, nil
}

// marketMu returns the serialization mutex for a market id.
func (c *Core) marketMu(id uint64) *sync.Mutex {
	c.muMu.Lock()
	defer c.muMu.Unlock()
	mu, ok := c.mus[id]
	if !ok {
		mu = &sync.Mutex{}
		c.mus[id] = mu
	}
	return mu
}

// CreationFee returns the current market creation fee in wei.
func (c *Core) CreationFee() *big.Int {
	return new(big.Int).Set(c.cfg.CreationFee)
}

// CreateMarket validates and creates a new Active market from a signed
// create_market operation, assigning the next monotonic id. The oracle
// defaults to the creator.
func (c *Core) CreateMarket(ctx context.Context, op domain.MarketOp) (domain.Market, error) {
	creator, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return domain.Market{}, err
	}

	if n := len(op.Options); n < domain.MinOptions || n > domain.MaxOptions {
		return domain.Market{}, domain.ErrInvalidOptions
	}
	if op.MinBet == nil || op.MinBet.Sign() <= 0 || op.MaxBet == nil || op.MaxBet.Cmp(op.MinBet) < 0 {
		return domain.Market{}, domain.ErrInvalidBetBounds
	}
	if op.Value == nil || op.Value.Cmp(c.cfg.CreationFee) < 0 {
		return domain.Market{}, domain.ErrInsufficientFee
	}

	now := c.now()
	endTime := time.Unix(op.EndTime, 0).UTC()
	if !endTime.After(now) {
		return domain.Market{}, fmt.Errorf("ledger: %w: end time %s is not in the future", domain.ErrMarketEnded, endTime)
	}

	id, err := c.markets.NextID(ctx)
	if err != nil {
		return domain.Market{}, fmt.Errorf("ledger: next market id: %w", err)
	}

	m := domain.Market{
		ID:          id,
		Creator:     creator,
		Question:    op.Question,
		Options:     append([]string(nil), op.Options...),
		EndTime:     endTime,
		Oracle:      creator,
		Status:      domain.MarketStatusActive,
		TotalPool:   big.NewInt(0),
		WinningPool: big.NewInt(0),
		MinBet:      new(big.Int).Set(op.MinBet),
		MaxBet:      new(big.Int).Set(op.MaxBet),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.markets.Create(ctx, m); err != nil {
		return domain.Market{}, fmt.Errorf("ledger: create market: %w", err)
	}

	c.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.ID),
		slog.String("creator", creator.Hex()),
		slog.Int("options", len(m.Options)),
		slog.Time("end_time", m.EndTime),
	)
	c.auditLog(ctx, "market_created", map[string]any{
		"market_id": m.ID,
		"creator":   creator.Hex(),
		"question":  m.Question,
		"category":  string(domain.ClassifyCategory(m.Question)),
	})
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventMarketCreated,
		MarketID: m.ID,
		Status:   m.Status.String(),
		At:       now,
	})
	c.cacheRefresh(ctx, m)

	return m, nil
}

// ChangeOracle reassigns a market's oracle. Only the creator or the current
// oracle may do so, and only while the market is Active.
func (c *Core) ChangeOracle(ctx context.Context, op domain.MarketOp) error {
	caller, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return err
	}
	if !common.IsHexAddress(op.NewOracle) {
		return fmt.Errorf("ledger: %w: %q", domain.ErrInvalidAddress, op.NewOracle)
	}
	newOracle := common.HexToAddress(op.NewOracle)

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.ErrNotActive
	}
	if caller != m.Creator && caller != m.Oracle {
		return domain.ErrUnauthorized
	}

	prev := m.Oracle
	m.Oracle = newOracle
	m.UpdatedAt = c.now()
	if err := c.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("ledger: change oracle: %w", err)
	}

	c.auditLog(ctx, "oracle_changed", map[string]any{
		"market_id":  m.ID,
		"old_oracle": prev.Hex(),
		"new_oracle": newOracle.Hex(),
	})
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventOracleChanged,
		MarketID: m.ID,
		Status:   m.Status.String(),
		At:       m.UpdatedAt,
	})
	c.cacheSet(ctx, m)
	return nil
}

// CloseMarket transitions Active -> Closed. The creator may close at any
// time; anyone may close once the end time has passed.
func (c *Core) CloseMarket(ctx context.Context, op domain.MarketOp) error {
	caller, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return err
	}

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.ErrNotActive
	}
	if caller != m.Creator && !m.Ended(c.now()) {
		return domain.ErrUnauthorized
	}

	m.Status = domain.MarketStatusClosed
	m.UpdatedAt = c.now()
	if err := c.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("ledger: close market: %w", err)
	}

	c.logger.InfoContext(ctx, "market closed", slog.Uint64("market_id", m.ID))
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventMarketClosed,
		MarketID: m.ID,
		Status:   m.Status.String(),
		At:       m.UpdatedAt,
	})
	c.cacheRefresh(ctx, m)
	return nil
}

// CancelMarket transitions Active|Closed -> Cancelled and opens the refund
// path for every bettor. Only the creator or the oracle may cancel. The
// reason is recorded for audit and query; it has no protocol effect.
func (c *Core) CancelMarket(ctx context.Context, op domain.MarketOp) error {
	caller, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return err
	}

	unlock, err := c.acquireTransitionLock(ctx, op.MarketID)
	if err != nil {
		return err
	}
	defer unlock()

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return err
	}
	if !m.Status.CanTransition(domain.MarketStatusCancelled) {
		if m.Status == domain.MarketStatusSettled || m.Status == domain.MarketStatusCancelled {
			return fmt.Errorf("ledger: %w: market %d is %s", domain.ErrNotActive, m.ID, m.Status)
		}
		return domain.ErrNotActive
	}
	if caller != m.Creator && caller != m.Oracle {
		return domain.ErrUnauthorized
	}

	m.Status = domain.MarketStatusCancelled
	m.CancelReason = op.Reason
	m.UpdatedAt = c.now()
	if err := c.markets.Update(ctx, m); err != nil {
		return fmt.Errorf("ledger: cancel market: %w", err)
	}

	c.logger.InfoContext(ctx, "market cancelled",
		slog.Uint64("market_id", m.ID),
		slog.String("reason", op.Reason),
	)
	c.auditLog(ctx, "market_cancelled", map[string]any{
		"market_id": m.ID,
		"caller":    caller.Hex(),
		"reason":    op.Reason,
	})
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventMarketCancelled,
		MarketID: m.ID,
		Status:   m.Status.String(),
		Reason:   op.Reason,
		At:       m.UpdatedAt,
	})
	c.cacheRefresh(ctx, m)
	return nil
}

// PlaceBet accepts a signed encrypted-bet submission. The whole call is
// atomic: the proof must verify for both handles, the attached value must be
// within bounds, and only then is the bet recorded and the pool updated.
// Repeat submissions by the same bettor accumulate into their existing
// position rather than creating a second record.
func (c *Core) PlaceBet(ctx context.Context, sub domain.BetSubmission) (domain.TxReceipt, error) {
	bettor, err := crypto.RecoverBettor(sub, c.cfg.ChainID)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	mu := c.marketMu(sub.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, sub.MarketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if m.Status != domain.MarketStatusActive {
		return domain.TxReceipt{}, domain.ErrNotActive
	}
	now := c.now()
	if m.Ended(now) {
		return domain.TxReceipt{}, domain.ErrMarketEnded
	}
	if sub.Value == nil || sub.Value.Sign() <= 0 ||
		sub.Value.Cmp(m.MinBet) < 0 || sub.Value.Cmp(m.MaxBet) > 0 {
		return domain.TxReceipt{}, domain.ErrAmountOutOfBounds
	}

	// The proof must bind both handles to this deployment's betting contract
	// and the recovered bettor. A bundle built for any other contract or user
	// fails here; nothing is recorded.
	handles := []domain.Handle{sub.OptionHandle, sub.AmountHandle}
	if err := c.cop.VerifyInput(ctx, sub.Proof, handles, c.cfg.BettingContract, bettor); err != nil {
		return domain.TxReceipt{}, err
	}

	existing, err := c.bets.Get(ctx, sub.MarketID, bettor)
	switch {
	case err == nil && !existing.Consumed():
		// Accumulate: amounts add homomorphically, the latest submission's
		// option handle governs the position.
		summed, addErr := c.cop.Add(ctx, existing.AmountHandle, sub.AmountHandle)
		if addErr != nil {
			return domain.TxReceipt{}, fmt.Errorf("ledger: accumulate bet: %w", addErr)
		}
		existing.AmountHandle = summed
		existing.OptionHandle = sub.OptionHandle
		existing.Deposited = new(big.Int).Add(existing.Deposited, sub.Value)
		existing.UpdatedAt = now
		if err := c.bets.Upsert(ctx, existing); err != nil {
			return domain.TxReceipt{}, fmt.Errorf("ledger: update bet: %w", err)
		}
	case err == nil:
		// A refunded position cannot be re-entered; a claimed one means the
		// market already settled, which the status check above rules out.
		return domain.TxReceipt{}, domain.ErrAlreadyRefunded
	case errors.Is(err, domain.ErrNotFound):
		bet := domain.EncryptedBet{
			MarketID:     sub.MarketID,
			Bettor:       bettor,
			OptionHandle: sub.OptionHandle,
			AmountHandle: sub.AmountHandle,
			Deposited:    new(big.Int).Set(sub.Value),
			SubmittedAt:  now,
			UpdatedAt:    now,
		}
		if err := c.bets.Upsert(ctx, bet); err != nil {
			return domain.TxReceipt{}, fmt.Errorf("ledger: record bet: %w", err)
		}
		m.BettorCount++
	default:
		return domain.TxReceipt{}, fmt.Errorf("ledger: load bet: %w", err)
	}

	m.TotalPool = new(big.Int).Add(m.TotalPool, sub.Value)
	m.UpdatedAt = now
	if err := c.markets.Update(ctx, m); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: update pool: %w", err)
	}

	c.logger.InfoContext(ctx, "bet accepted",
		slog.Uint64("market_id", m.ID),
		slog.String("pool_wei", m.TotalPool.String()),
		slog.Uint64("bettors", m.BettorCount),
	)
	c.publish(ctx, domain.MarketEvent{
		Type:         domain.EventBetPlaced,
		MarketID:     m.ID,
		Status:       m.Status.String(),
		TotalPoolWei: m.TotalPool.String(),
		BettorCount:  m.BettorCount,
		At:           now,
	})
	c.cacheSet(ctx, m)

	return domain.TxReceipt{ID: uuid.New().String(), MarketID: m.ID}, nil
}

// RefundBet returns a bettor's full attached stake after cancellation. The
// attached value is the refundable unit; the encrypted amount commitment is
// not consulted. Exactly-once: a second call fails with ErrAlreadyRefunded.
func (c *Core) RefundBet(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	bettor, err := crypto.RecoverCaller(op, c.cfg.ChainID)
	if err != nil {
		return domain.TxReceipt{}, err
	}

	mu := c.marketMu(op.MarketID)
	mu.Lock()
	defer mu.Unlock()

	m, err := c.markets.GetByID(ctx, op.MarketID)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if m.Status != domain.MarketStatusCancelled {
		return domain.TxReceipt{}, domain.ErrNotCancelled
	}

	bet, err := c.bets.Get(ctx, op.MarketID, bettor)
	if err != nil {
		return domain.TxReceipt{}, err
	}
	if bet.Refunded {
		return domain.TxReceipt{}, domain.ErrAlreadyRefunded
	}

	if err := c.bets.MarkRefunded(ctx, op.MarketID, bettor); err != nil {
		return domain.TxReceipt{}, fmt.Errorf("ledger: mark refunded: %w", err)
	}

	c.logger.InfoContext(ctx, "bet refunded",
		slog.Uint64("market_id", m.ID),
		slog.String("bettor", bettor.Hex()),
		slog.String("refund_wei", bet.Deposited.String()),
	)
	c.publish(ctx, domain.MarketEvent{
		Type:     domain.EventBetRefunded,
		MarketID: m.ID,
		Status:   m.Status.String(),
		At:       c.now(),
	})

	return domain.TxReceipt{
		ID:        uuid.New().String(),
		MarketID:  m.ID,
		PayoutWei: new(big.Int).Set(bet.Deposited),
	}, nil
}

// --------------------------------------------------------------------------
// Read surface
// --------------------------------------------------------------------------

// GetMarket returns a market by id, consulting the cache first.
func (c *Core) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	if c.cache != nil {
		if m, err := c.cache.Get(ctx, id); err == nil {
			return m, nil
		}
	}
	m, err := c.markets.GetByID(ctx, id)
	if err != nil {
		return domain.Market{}, err
	}
	c.cacheSet(ctx, m)
	return m, nil
}

// GetActiveMarkets returns the ids of Active markets, newest first, paged by
// opts. The full id list is held in a short-lived cache projection and paging
// is applied to it, so every page shape shares one cached entry.
func (c *Core) GetActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]uint64, error) {
	if c.cache == nil {
		markets, err := c.markets.ListActive(ctx, opts)
		if err != nil {
			return nil, err
		}
		return marketIDs(markets), nil
	}

	if ids, err := c.cache.GetActiveIDs(ctx); err == nil {
		return pageIDs(ids, opts), nil
	}

	markets, err := c.markets.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return nil, err
	}
	ids := marketIDs(markets)
	if err := c.cache.SetActiveIDs(ctx, ids); err != nil {
		c.logger.DebugContext(ctx, "cache active ids failed", slog.String("error", err.Error()))
	}
	return pageIDs(ids, opts), nil
}

func marketIDs(markets []domain.Market) []uint64 {
	ids := make([]uint64, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	return ids
}

// pageIDs applies offset/limit to an id slice. Limit 0 means no limit.
func pageIDs(ids []uint64, opts domain.ListOpts) []uint64 {
	if opts.Offset >= len(ids) {
		return []uint64{}
	}
	ids = ids[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(ids) {
		ids = ids[:opts.Limit]
	}
	return append([]uint64(nil), ids...)
}

// GetUserCreatedMarkets returns the ids of markets created by the given user.
func (c *Core) GetUserCreatedMarkets(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]uint64, error) {
	markets, err := c.markets.ListByCreator(ctx, creator, opts)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(markets))
	for _, m := range markets {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// GetBettorCount returns the number of distinct bettors on a market.
func (c *Core) GetBettorCount(ctx context.Context, marketID uint64) (uint64, error) {
	return c.bets.CountByMarket(ctx, marketID)
}

// GetBet returns a bettor's encrypted position. Handles are opaque; this
// reveals nothing about the option or amount.
func (c *Core) GetBet(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBet, error) {
	return c.bets.Get(ctx, marketID, bettor)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// acquireTransitionLock takes the distributed per-market transition lock when
// a lock manager is configured. The in-process mutex still applies.
func (c *Core) acquireTransitionLock(ctx context.Context, marketID uint64) (func(), error) {
	if c.locks == nil {
		return func() {}, nil
	}
	unlock, err := c.locks.Acquire(ctx, fmt.Sprintf("market:%d:transition", marketID), 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ledger: transition lock for market %d: %w", marketID, err)
	}
	return unlock, nil
}

func (c *Core) auditLog(ctx context.Context, event string, detail map[string]any) {
	if c.audit == nil {
		return
	}
	if err := c.audit.Log(ctx, event, detail); err != nil {
		c.logger.WarnContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Core) publish(ctx context.Context, ev domain.MarketEvent) {
	if c.bus == nil {
		return
	}
	payload, err := marshalEvent(ev)
	if err != nil {
		c.logger.WarnContext(ctx, "marshal event failed", slog.String("error", err.Error()))
		return
	}
	if err := c.bus.Publish(ctx, channelFor(ev.Type), payload); err != nil {
		c.logger.WarnContext(ctx, "publish event failed",
			slog.String("type", string(ev.Type)),
			slog.String("error", err.Error()),
		)
	}
}

// channelFor routes bettor-facing events to the bets channel and market
// lifecycle events to the markets channel.
func channelFor(t domain.EventType) string {
	switch t {
	case domain.EventBetPlaced, domain.EventBetRefunded, domain.EventPayoutClaimed:
		return domain.ChannelBets
	default:
		return domain.ChannelMarkets
	}
}

func (c *Core) cacheSet(ctx context.Context, m domain.Market) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Set(ctx, m); err != nil {
		c.logger.DebugContext(ctx, "cache set failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
}

// cacheRefresh replaces a market's cached snapshot after a state change and
// drops the active-id projection, which may no longer reflect membership.
func (c *Core) cacheRefresh(ctx context.Context, m domain.Market) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, m.ID); err != nil {
		c.logger.DebugContext(ctx, "cache invalidate failed",
			slog.Uint64("market_id", m.ID),
			slog.String("error", err.Error()),
		)
	}
	c.cacheSet(ctx, m)
}

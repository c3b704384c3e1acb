package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// BetStore implements domain.BetStore using PostgreSQL.
type BetStore struct {
	pool *pgxpool.Pool
}

// NewBetStore creates a new BetStore backed by the given connection pool.
func NewBetStore(pool *pgxpool.Pool) *BetStore {
	return &BetStore{pool: pool}
}

// Upsert inserts a bet or replaces the existing (market, bettor) row. The
// ledger accumulates repeat submissions into the handles before calling this,
// so the row always carries the full position.
func (s *BetStore) Upsert(ctx context.Context, b domain.EncryptedBet) error {
	const query = `
		INSERT INTO bets (
			market_id, bettor, option_handle, amount_handle, deposited,
			winning_stake, submitted_at, updated_at, claimed, refunded
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
		ON CONFLICT (market_id, bettor) DO UPDATE SET
			option_handle = EXCLUDED.option_handle,
			amount_handle = EXCLUDED.amount_handle,
			deposited     = EXCLUDED.deposited,
			winning_stake = EXCLUDED.winning_stake,
			updated_at    = EXCLUDED.updated_at,
			claimed       = EXCLUDED.claimed,
			refunded      = EXCLUDED.refunded`

	_, err := s.pool.Exec(ctx, query,
		b.MarketID, b.Bettor.Hex(),
		b.OptionHandle[:], b.AmountHandle[:], numeric(b.Deposited),
		handleBytes(b.WinningStake), b.SubmittedAt, b.UpdatedAt,
		b.Claimed, b.Refunded,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bet market %d bettor %s: %w", b.MarketID, b.Bettor.Hex(), err)
	}
	return nil
}

const betCols = `market_id, bettor, option_handle, amount_handle, deposited::text,
	winning_stake, submitted_at, updated_at, claimed, refunded`

// scanBet scans a single bet row into a domain.EncryptedBet.
func scanBet(row pgx.Row) (domain.EncryptedBet, error) {
	var (
		b                        domain.EncryptedBet
		bettor, deposited        string
		option, amount, winStake []byte
	)
	err := row.Scan(
		&b.MarketID, &bettor, &option, &amount, &deposited,
		&winStake, &b.SubmittedAt, &b.UpdatedAt, &b.Claimed, &b.Refunded,
	)
	if err != nil {
		return domain.EncryptedBet{}, err
	}
	b.Bettor = common.HexToAddress(bettor)
	copy(b.OptionHandle[:], option)
	copy(b.AmountHandle[:], amount)
	copy(b.WinningStake[:], winStake)
	b.Deposited = parseNumeric(deposited)
	return b, nil
}

// Get retrieves a single bettor's position on a market.
func (s *BetStore) Get(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBet, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 AND bettor = $2`,
		marketID, bettor.Hex())
	b, err := scanBet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.EncryptedBet{}, domain.ErrNotFound
		}
		return domain.EncryptedBet{}, fmt.Errorf("postgres: get bet market %d bettor %s: %w", marketID, bettor.Hex(), err)
	}
	return b, nil
}

// ListByMarket returns every bet on a market in submission order.
func (s *BetStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.EncryptedBet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betCols+` FROM bets WHERE market_id = $1 ORDER BY submitted_at`,
		marketID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bets for market %d: %w", marketID, err)
	}
	defer rows.Close()

	var bets []domain.EncryptedBet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bet: %w", err)
		}
		bets = append(bets, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: bet rows: %w", err)
	}
	return bets, nil
}

// CountByMarket returns the number of distinct bettors on a market.
func (s *BetStore) CountByMarket(ctx context.Context, marketID uint64) (uint64, error) {
	var count uint64
	err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM bets WHERE market_id = $1", marketID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count bets for market %d: %w", marketID, err)
	}
	return count, nil
}

// MarkClaimed flags a bet as paid out.
func (s *BetStore) MarkClaimed(ctx context.Context, marketID uint64, bettor common.Address) error {
	return s.setFlag(ctx, "claimed", marketID, bettor)
}

// MarkRefunded flags a bet as refunded.
func (s *BetStore) MarkRefunded(ctx context.Context, marketID uint64, bettor common.Address) error {
	return s.setFlag(ctx, "refunded", marketID, bettor)
}

func (s *BetStore) setFlag(ctx context.Context, column string, marketID uint64, bettor common.Address) error {
	query := fmt.Sprintf(
		"UPDATE bets SET %s = TRUE, updated_at = NOW() WHERE market_id = $1 AND bettor = $2",
		column)
	tag, err := s.pool.Exec(ctx, query, marketID, bettor.Hex())
	if err != nil {
		return fmt.Errorf("postgres: mark bet %s market %d bettor %s: %w", column, marketID, bettor.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// handleBytes renders a handle for a BYTEA column, keeping the zero handle as
// an empty value so unsettled rows stay compact.
func handleBytes(h domain.Handle) []byte {
	if h.IsZero() {
		return []byte{}
	}
	return h[:]
}

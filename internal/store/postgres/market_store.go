package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// NextID reserves and returns the next market id from the shared sequence.
func (s *MarketStore) NextID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.pool.QueryRow(ctx, "SELECT nextval('market_id_seq')").Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: next market id: %w", err)
	}
	return id, nil
}

// Create inserts a new market row.
func (s *MarketStore) Create(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, creator, question, options, end_time, oracle,
			status, winning_option, total_pool, winning_pool,
			min_bet, max_bet, bettor_count, cancel_reason,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Creator.Hex(), m.Question, m.Options, m.EndTime, m.Oracle.Hex(),
		int16(m.Status), int16(m.WinningOption), numeric(m.TotalPool), numeric(m.WinningPool),
		numeric(m.MinBet), numeric(m.MaxBet), m.BettorCount, m.CancelReason,
		m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create market %d: %w", m.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of an existing market.
func (s *MarketStore) Update(ctx context.Context, m domain.Market) error {
	const query = `
		UPDATE markets SET
			oracle         = $2,
			status         = $3,
			winning_option = $4,
			total_pool     = $5,
			winning_pool   = $6,
			bettor_count   = $7,
			cancel_reason  = $8,
			updated_at     = $9
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		m.ID, m.Oracle.Hex(), int16(m.Status), int16(m.WinningOption),
		numeric(m.TotalPool), numeric(m.WinningPool),
		m.BettorCount, m.CancelReason, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %d: %w", m.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

const marketCols = `id, creator, question, options, end_time, oracle,
	status, winning_option, total_pool::text, winning_pool::text,
	min_bet::text, max_bet::text, bettor_count, cancel_reason,
	created_at, updated_at`

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                    domain.Market
		creator, oracle      string
		status, winning      int16
		totalPool, winPool   string
		minBet, maxBet       string
	)
	err := row.Scan(
		&m.ID, &creator, &m.Question, &m.Options, &m.EndTime, &oracle,
		&status, &winning, &totalPool, &winPool,
		&minBet, &maxBet, &m.BettorCount, &m.CancelReason,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Creator = common.HexToAddress(creator)
	m.Oracle = common.HexToAddress(oracle)
	m.Status = domain.MarketStatus(status)
	m.WinningOption = uint8(winning)
	m.TotalPool = parseNumeric(totalPool)
	m.WinningPool = parseNumeric(winPool)
	m.MinBet = parseNumeric(minBet)
	m.MaxBet = parseNumeric(maxBet)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListActive returns markets still in the Active state, newest first.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return s.ListByStatus(ctx, domain.MarketStatusActive, opts)
}

// ListByStatus returns markets in the given lifecycle state, newest first.
func (s *MarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE status = $1 ORDER BY created_at DESC`
	args := []any{int16(status)}
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by status %s: %w", status, err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// ListByCreator returns markets created by the given address, newest first.
func (s *MarketStore) ListByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE creator = $1 ORDER BY created_at DESC`
	args := []any{creator.Hex()}
	query, args = paginate(query, args, opts)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets by creator %s: %w", creator.Hex(), err)
	}
	defer rows.Close()
	return collectMarkets(rows)
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func collectMarkets(rows pgx.Rows) ([]domain.Market, error) {
	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: market rows: %w", err)
	}
	return markets, nil
}

// paginate appends LIMIT/OFFSET clauses for the given options.
func paginate(query string, args []any, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}

// numeric renders a big.Int for a NUMERIC column, treating nil as zero.
func numeric(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// parseNumeric converts a NUMERIC column rendered as text back to a big.Int.
func parseNumeric(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

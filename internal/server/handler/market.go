package handler

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// MarketLedger defines what the market handler requires from the ledger. It
// is declared locally so the handler package does not depend on the concrete
// ledger implementation.
type MarketLedger interface {
	CreationFee() *big.Int
	CreateMarket(ctx context.Context, op domain.MarketOp) (domain.Market, error)
	ChangeOracle(ctx context.Context, op domain.MarketOp) error
	CloseMarket(ctx context.Context, op domain.MarketOp) error
	SettleMarket(ctx context.Context, op domain.MarketOp) error
	CancelMarket(ctx context.Context, op domain.MarketOp) error
	RefundBet(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error)
	Claim(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error)

	GetMarket(ctx context.Context, id uint64) (domain.Market, error)
	GetActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]uint64, error)
	GetUserCreatedMarkets(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]uint64, error)
	GetBettorCount(ctx context.Context, marketID uint64) (uint64, error)
}

// MarketHandler serves market lifecycle and read endpoints.
type MarketHandler struct {
	ledger MarketLedger
	logger *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(ledger MarketLedger, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		ledger: ledger,
		logger: logHandler(logger, "market"),
	}
}

// marketPayload is the wire form of a market. Pools and bounds travel as
// decimal wei strings so amounts survive JSON untouched.
type marketPayload struct {
	ID            uint64    `json:"id"`
	Creator       string    `json:"creator"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	EndTime       time.Time `json:"end_time"`
	Oracle        string    `json:"oracle"`
	Status        string    `json:"status"`
	WinningOption *uint8    `json:"winning_option,omitempty"`
	TotalPool     string    `json:"total_pool_wei"`
	WinningPool   string    `json:"winning_pool_wei,omitempty"`
	MinBet        string    `json:"min_bet_wei"`
	MaxBet        string    `json:"max_bet_wei"`
	BettorCount   uint64    `json:"bettor_count"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toPayload(m domain.Market) marketPayload {
	p := marketPayload{
		ID:           m.ID,
		Creator:      m.Creator.Hex(),
		Question:     m.Question,
		Options:      m.Options,
		EndTime:      m.EndTime,
		Oracle:       m.Oracle.Hex(),
		Status:       m.Status.String(),
		TotalPool:    weiString(m.TotalPool),
		MinBet:       weiString(m.MinBet),
		MaxBet:       weiString(m.MaxBet),
		BettorCount:  m.BettorCount,
		CancelReason: m.CancelReason,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Status == domain.MarketStatusSettled {
		win := m.WinningOption
		p.WinningOption = &win
		p.WinningPool = weiString(m.WinningPool)
	}
	return p
}

func weiString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// ListMarkets returns active markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	ids, err := h.ledger.GetActiveMarkets(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	payloads, err := h.hydrate(r.Context(), ids)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: hydrate markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	writeJSON(w, http.StatusOK, payloads)
}

// GetMarket returns a single market by id.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	market, err := h.ledger.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayload(market))
}

// UserMarkets returns markets created by the given address.
// GET /api/users/{addr}/markets
func (h *MarketHandler) UserMarkets(w http.ResponseWriter, r *http.Request) {
	addr := r.PathValue("addr")
	if !common.IsHexAddress(addr) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	ids, err := h.ledger.GetUserCreatedMarkets(r.Context(), common.HexToAddress(addr), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list user markets failed",
			slog.String("creator", addr),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	payloads, err := h.hydrate(r.Context(), ids)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}
	writeJSON(w, http.StatusOK, payloads)
}

// BettorCount returns the number of distinct bettors on a market.
// GET /api/markets/{id}/bettors
func (h *MarketHandler) BettorCount(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid market id")
		return
	}

	count, err := h.ledger.GetBettorCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"market_id":    id,
		"bettor_count": count,
	})
}

// CreationFee returns the flat market creation fee.
// GET /api/fees/creation
func (h *MarketHandler) CreationFee(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"creation_fee_wei": weiString(h.ledger.CreationFee()),
	})
}

// CreateMarket accepts a signed market creation.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var op domain.MarketOp
	if err := decodeBody(r, &op); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	op.Kind = domain.OpCreateMarket

	market, err := h.ledger.CreateMarket(r.Context(), op)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, domain.TxReceipt{
		ID:       uuid.New().String(),
		MarketID: market.ID,
	})
}

// marketAction parses a signed per-market operation and forwards it with the
// given kind and the path's market id.
func (h *MarketHandler) marketAction(kind domain.OpKind, call func(context.Context, domain.MarketOp) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid market id")
			return
		}

		var op domain.MarketOp
		if err := decodeBody(r, &op); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		op.Kind = kind
		op.MarketID = id

		if err := call(r.Context(), op); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, domain.TxReceipt{
			ID:       uuid.New().String(),
			MarketID: id,
		})
	}
}

// CloseMarket accepts a signed close.
// POST /api/markets/{id}/close
func (h *MarketHandler) CloseMarket(w http.ResponseWriter, r *http.Request) {
	h.marketAction(domain.OpCloseMarket, h.ledger.CloseMarket)(w, r)
}

// SettleMarket accepts a signed settlement.
// POST /api/markets/{id}/settle
func (h *MarketHandler) SettleMarket(w http.ResponseWriter, r *http.Request) {
	h.marketAction(domain.OpSettleMarket, h.ledger.SettleMarket)(w, r)
}

// CancelMarket accepts a signed cancellation.
// POST /api/markets/{id}/cancel
func (h *MarketHandler) CancelMarket(w http.ResponseWriter, r *http.Request) {
	h.marketAction(domain.OpCancelMarket, h.ledger.CancelMarket)(w, r)
}

// ChangeOracle accepts a signed oracle reassignment.
// POST /api/markets/{id}/oracle
func (h *MarketHandler) ChangeOracle(w http.ResponseWriter, r *http.Request) {
	h.marketAction(domain.OpChangeOracle, h.ledger.ChangeOracle)(w, r)
}

// RefundBet returns the caller's deposit from a cancelled market.
// POST /api/markets/{id}/refund
func (h *MarketHandler) RefundBet(w http.ResponseWriter, r *http.Request) {
	h.receiptAction(domain.OpRefundBet, h.ledger.RefundBet)(w, r)
}

// ClaimPayout pays out the caller's winnings from a settled market.
// POST /api/markets/{id}/claim
func (h *MarketHandler) ClaimPayout(w http.ResponseWriter, r *http.Request) {
	h.receiptAction(domain.OpClaimPayout, h.ledger.Claim)(w, r)
}

// receiptAction is marketAction for operations that produce their own
// receipt (refunds and claims report the paid amount).
func (h *MarketHandler) receiptAction(kind domain.OpKind, call func(context.Context, domain.MarketOp) (domain.TxReceipt, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r, "id")
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid market id")
			return
		}

		var op domain.MarketOp
		if err := decodeBody(r, &op); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		op.Kind = kind
		op.MarketID = id

		receipt, err := call(r.Context(), op)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	}
}

func (h *MarketHandler) hydrate(ctx context.Context, ids []uint64) ([]marketPayload, error) {
	payloads := make([]marketPayload, 0, len(ids))
	for _, id := range ids {
		m, err := h.ledger.GetMarket(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		payloads = append(payloads, toPayload(m))
	}
	return payloads, nil
}

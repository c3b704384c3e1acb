package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// BetLedger defines what the bet handler requires from the ledger.
type BetLedger interface {
	PlaceBet(ctx context.Context, sub domain.BetSubmission) (domain.TxReceipt, error)
}

// BetHandler serves the bet intake endpoint.
type BetHandler struct {
	ledger BetLedger
	logger *slog.Logger
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(ledger BetLedger, logger *slog.Logger) *BetHandler {
	return &BetHandler{
		ledger: ledger,
		logger: logHandler(logger, "bet"),
	}
}

// PlaceBet accepts a signed encrypted bet submission. The submission is
// atomic: both handles, the proof, and the attached value either land
// together or the whole call is rejected.
// POST /api/bets
func (h *BetHandler) PlaceBet(w http.ResponseWriter, r *http.Request) {
	var sub domain.BetSubmission
	if err := decodeBody(r, &sub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if sub.Value == nil || sub.Value.Sign() <= 0 {
		writeError(w, http.StatusBadRequest, "attached value must be positive")
		return
	}
	if len(sub.Proof) == 0 {
		writeError(w, http.StatusBadRequest, "missing ciphertext proof")
		return
	}

	receipt, err := h.ledger.PlaceBet(r.Context(), sub)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "bet accepted",
		slog.Uint64("market_id", sub.MarketID),
		slog.String("receipt_id", receipt.ID),
	)
	writeJSON(w, http.StatusOK, receipt)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

var (
	testCreator = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	testOracle  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// stubLedger implements MarketLedger and BetLedger over a fixed market map,
// with injectable errors per operation.
type stubLedger struct {
	markets map[uint64]domain.Market
	fee     *big.Int

	settleErr error
	claimRcpt domain.TxReceipt
	claimErr  error
	betRcpt   domain.TxReceipt
	betErr    error
}

func (s *stubLedger) CreationFee() *big.Int { return s.fee }

func (s *stubLedger) CreateMarket(ctx context.Context, op domain.MarketOp) (domain.Market, error) {
	if len(op.Options) < domain.MinOptions {
		return domain.Market{}, domain.ErrInvalidOptions
	}
	return domain.Market{ID: 11}, nil
}

func (s *stubLedger) ChangeOracle(ctx context.Context, op domain.MarketOp) error { return nil }
func (s *stubLedger) CloseMarket(ctx context.Context, op domain.MarketOp) error  { return nil }
func (s *stubLedger) SettleMarket(ctx context.Context, op domain.MarketOp) error { return s.settleErr }
func (s *stubLedger) CancelMarket(ctx context.Context, op domain.MarketOp) error { return nil }

func (s *stubLedger) RefundBet(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	return s.claimRcpt, s.claimErr
}

func (s *stubLedger) Claim(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	return s.claimRcpt, s.claimErr
}

func (s *stubLedger) GetMarket(ctx context.Context, id uint64) (domain.Market, error) {
	m, ok := s.markets[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *stubLedger) GetActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]uint64, error) {
	var ids []uint64
	for id, m := range s.markets {
		if m.Status == domain.MarketStatusActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *stubLedger) GetUserCreatedMarkets(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]uint64, error) {
	var ids []uint64
	for id, m := range s.markets {
		if m.Creator == creator {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *stubLedger) GetBettorCount(ctx context.Context, marketID uint64) (uint64, error) {
	m, ok := s.markets[marketID]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return m.BettorCount, nil
}

func (s *stubLedger) PlaceBet(ctx context.Context, sub domain.BetSubmission) (domain.TxReceipt, error) {
	return s.betRcpt, s.betErr
}

func testMarket(id uint64, status domain.MarketStatus) domain.Market {
	return domain.Market{
		ID:          id,
		Creator:     testCreator,
		Question:    "Will it ship?",
		Options:     []string{"Yes", "No"},
		EndTime:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		Oracle:      testOracle,
		Status:      status,
		TotalPool:   big.NewInt(300),
		WinningPool: big.NewInt(200),
		MinBet:      big.NewInt(10),
		MaxBet:      big.NewInt(100),
		BettorCount: 3,
	}
}

// newTestMux registers the handlers under the same route patterns the server
// uses, so path parameters resolve.
func newTestMux(ledger *stubLedger) *http.ServeMux {
	logger := slog.New(slog.DiscardHandler)
	markets := NewMarketHandler(ledger, logger)
	bets := NewBetHandler(ledger, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/markets", markets.ListMarkets)
	mux.HandleFunc("GET /api/markets/{id}", markets.GetMarket)
	mux.HandleFunc("GET /api/markets/{id}/bettors", markets.BettorCount)
	mux.HandleFunc("GET /api/users/{addr}/markets", markets.UserMarkets)
	mux.HandleFunc("GET /api/fees/creation", markets.CreationFee)
	mux.HandleFunc("POST /api/markets", markets.CreateMarket)
	mux.HandleFunc("POST /api/markets/{id}/settle", markets.SettleMarket)
	mux.HandleFunc("POST /api/markets/{id}/claim", markets.ClaimPayout)
	mux.HandleFunc("POST /api/bets", bets.PlaceBet)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestGetMarket(t *testing.T) {
	t.Run("ActiveOmitsWinner", func(t *testing.T) {
		ledger := &stubLedger{markets: map[uint64]domain.Market{
			1: testMarket(1, domain.MarketStatusActive),
		}}
		rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/markets/1", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, "active", p["status"])
		assert.Equal(t, "300", p["total_pool_wei"], "pools travel as wei strings")
		assert.NotContains(t, p, "winning_option")
		assert.NotContains(t, p, "winning_pool_wei")
	})

	t.Run("SettledCarriesWinner", func(t *testing.T) {
		m := testMarket(2, domain.MarketStatusSettled)
		m.WinningOption = 1
		ledger := &stubLedger{markets: map[uint64]domain.Market{2: m}}

		rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/markets/2", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var p map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
		assert.Equal(t, float64(1), p["winning_option"])
		assert.Equal(t, "200", p["winning_pool_wei"])
	})

	t.Run("NotFound", func(t *testing.T) {
		ledger := &stubLedger{markets: map[uint64]domain.Market{}}
		rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/markets/9", nil)
		require.Equal(t, http.StatusNotFound, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "not_found", body["code"])
	})

	t.Run("BadID", func(t *testing.T) {
		ledger := &stubLedger{markets: map[uint64]domain.Market{}}
		rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/markets/abc", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestListMarkets(t *testing.T) {
	ledger := &stubLedger{markets: map[uint64]domain.Market{
		1: testMarket(1, domain.MarketStatusActive),
		2: testMarket(2, domain.MarketStatusClosed),
	}}
	rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1, "only active markets are listed")
	assert.Equal(t, float64(1), list[0]["id"])
}

func TestUserMarkets(t *testing.T) {
	ledger := &stubLedger{markets: map[uint64]domain.Market{
		1: testMarket(1, domain.MarketStatusActive),
	}}
	mux := newTestMux(ledger)

	rec := doJSON(t, mux, http.MethodGet, "/api/users/"+testCreator.Hex()+"/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = doJSON(t, mux, http.MethodGet, "/api/users/nonsense/markets", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreationFee(t *testing.T) {
	ledger := &stubLedger{fee: big.NewInt(10_000)}
	rec := doJSON(t, newTestMux(ledger), http.MethodGet, "/api/fees/creation", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "10000", body["creation_fee_wei"])
}

func TestCreateMarket(t *testing.T) {
	t.Run("Created", func(t *testing.T) {
		ledger := &stubLedger{}
		rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/markets", domain.MarketOp{
			Options: []string{"Yes", "No"},
		})
		require.Equal(t, http.StatusCreated, rec.Code)

		var receipt domain.TxReceipt
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
		assert.Equal(t, uint64(11), receipt.MarketID)
		assert.NotEmpty(t, receipt.ID)
	})

	t.Run("ValidationIs400", func(t *testing.T) {
		ledger := &stubLedger{}
		rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/markets", domain.MarketOp{
			Options: []string{"only one"},
		})
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invalid_options", body["code"])
	})
}

func TestStateConflictIs409(t *testing.T) {
	ledger := &stubLedger{
		markets:   map[uint64]domain.Market{1: testMarket(1, domain.MarketStatusActive)},
		settleErr: domain.ErrNotClosed,
	}
	rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/markets/1/settle", domain.MarketOp{})
	require.Equal(t, http.StatusConflict, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "not_closed", body["code"])
}

func TestClaimPayout(t *testing.T) {
	ledger := &stubLedger{
		markets:   map[uint64]domain.Market{1: testMarket(1, domain.MarketStatusSettled)},
		claimRcpt: domain.TxReceipt{ID: "r1", MarketID: 1, PayoutWei: big.NewInt(146)},
	}
	rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/markets/1/claim", domain.MarketOp{})
	require.Equal(t, http.StatusOK, rec.Code)

	var receipt domain.TxReceipt
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &receipt))
	assert.Equal(t, int64(146), receipt.PayoutWei.Int64())
}

func TestPlaceBetHandler(t *testing.T) {
	validSub := func() domain.BetSubmission {
		return domain.BetSubmission{
			MarketID: 1,
			Proof:    []byte("proof"),
			Value:    big.NewInt(50),
		}
	}

	t.Run("Accepted", func(t *testing.T) {
		ledger := &stubLedger{betRcpt: domain.TxReceipt{ID: "r2", MarketID: 1}}
		rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/bets", validSub())
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("MissingProof", func(t *testing.T) {
		sub := validSub()
		sub.Proof = nil
		rec := doJSON(t, newTestMux(&stubLedger{}), http.MethodPost, "/api/bets", sub)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("NonPositiveValue", func(t *testing.T) {
		sub := validSub()
		sub.Value = big.NewInt(0)
		rec := doJSON(t, newTestMux(&stubLedger{}), http.MethodPost, "/api/bets", sub)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("InvalidProofIs400", func(t *testing.T) {
		ledger := &stubLedger{betErr: domain.ErrInvalidProof}
		rec := doJSON(t, newTestMux(ledger), http.MethodPost, "/api/bets", validSub())
		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "invalid_proof", body["code"])
	})
}

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// Transport carries signed submissions to a market node and reads state back.
type Transport interface {
	SubmitBet(ctx context.Context, sub domain.BetSubmission) (domain.TxReceipt, error)
	SubmitOp(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error)

	Market(ctx context.Context, id uint64) (domain.Market, error)
	ActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	MarketsByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Market, error)
	BettorCount(ctx context.Context, id uint64) (uint64, error)
	CreationFee(ctx context.Context) (*big.Int, error)
}

// HTTPTransport implements Transport against the node's HTTP API.
type HTTPTransport struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPTransport creates a transport for the node at baseURL.
func NewHTTPTransport(baseURL string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// opPaths maps each operation kind to its API route. Create has no market id;
// every other kind posts to a per-market action path.
var opPaths = map[domain.OpKind]string{
	domain.OpChangeOracle: "oracle",
	domain.OpCloseMarket:  "close",
	domain.OpSettleMarket: "settle",
	domain.OpCancelMarket: "cancel",
	domain.OpRefundBet:    "refund",
	domain.OpClaimPayout:  "claim",
}

// SubmitBet posts a signed bet submission.
func (t *HTTPTransport) SubmitBet(ctx context.Context, sub domain.BetSubmission) (domain.TxReceipt, error) {
	var receipt domain.TxReceipt
	if err := t.post(ctx, "/api/bets", sub, &receipt); err != nil {
		return domain.TxReceipt{}, err
	}
	return receipt, nil
}

// SubmitOp posts a signed market operation to its action route.
func (t *HTTPTransport) SubmitOp(ctx context.Context, op domain.MarketOp) (domain.TxReceipt, error) {
	path := "/api/markets"
	if op.Kind != domain.OpCreateMarket {
		action, ok := opPaths[op.Kind]
		if !ok {
			return domain.TxReceipt{}, fmt.Errorf("client: unknown op kind %q", op.Kind)
		}
		path = fmt.Sprintf("/api/markets/%d/%s", op.MarketID, action)
	}

	var receipt domain.TxReceipt
	if err := t.post(ctx, path, op, &receipt); err != nil {
		return domain.TxReceipt{}, err
	}
	return receipt, nil
}

// marketPayload is the node's wire form of a market. Pools and bounds travel
// as decimal wei strings.
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

func (p marketPayload) toDomain() domain.Market {
	m := domain.Market{
		ID:           p.ID,
		Creator:      common.HexToAddress(p.Creator),
		Question:     p.Question,
		Options:      p.Options,
		EndTime:      p.EndTime,
		Oracle:       common.HexToAddress(p.Oracle),
		TotalPool:    parseWei(p.TotalPool),
		WinningPool:  parseWei(p.WinningPool),
		MinBet:       parseWei(p.MinBet),
		MaxBet:       parseWei(p.MaxBet),
		BettorCount:  p.BettorCount,
		CancelReason: p.CancelReason,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
	for s := domain.MarketStatusActive; s <= domain.MarketStatusCancelled; s++ {
		if s.String() == p.Status {
			m.Status = s
			break
		}
	}
	if p.WinningOption != nil {
		m.WinningOption = *p.WinningOption
	}
	return m
}

// Market fetches a single market by id.
func (t *HTTPTransport) Market(ctx context.Context, id uint64) (domain.Market, error) {
	var payload marketPayload
	if err := t.get(ctx, fmt.Sprintf("/api/markets/%d", id), &payload); err != nil {
		return domain.Market{}, err
	}
	return payload.toDomain(), nil
}

// ActiveMarkets lists markets open for betting.
func (t *HTTPTransport) ActiveMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return t.listMarkets(ctx, "/api/markets"+listQuery(opts))
}

// MarketsByCreator lists markets created by the given address.
func (t *HTTPTransport) MarketsByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Market, error) {
	path := fmt.Sprintf("/api/users/%s/markets%s", creator.Hex(), listQuery(opts))
	return t.listMarkets(ctx, path)
}

func (t *HTTPTransport) listMarkets(ctx context.Context, path string) ([]domain.Market, error) {
	var payloads []marketPayload
	if err := t.get(ctx, path, &payloads); err != nil {
		return nil, err
	}
	markets := make([]domain.Market, 0, len(payloads))
	for _, p := range payloads {
		markets = append(markets, p.toDomain())
	}
	return markets, nil
}

// BettorCount fetches the number of distinct bettors on a market.
func (t *HTTPTransport) BettorCount(ctx context.Context, id uint64) (uint64, error) {
	var payload struct {
		MarketID    uint64 `json:"market_id"`
		BettorCount uint64 `json:"bettor_count"`
	}
	if err := t.get(ctx, fmt.Sprintf("/api/markets/%d/bettors", id), &payload); err != nil {
		return 0, err
	}
	return payload.BettorCount, nil
}

// CreationFee fetches the flat fee required to create a market.
func (t *HTTPTransport) CreationFee(ctx context.Context) (*big.Int, error) {
	var payload struct {
		CreationFeeWei string `json:"creation_fee_wei"`
	}
	if err := t.get(ctx, "/api/fees/creation", &payload); err != nil {
		return nil, err
	}
	return parseWei(payload.CreationFeeWei), nil
}

func (t *HTTPTransport) get(ctx context.Context, path string, out any) error {
	return t.do(ctx, http.MethodGet, path, nil, out)
}

func (t *HTTPTransport) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("client: marshal request: %w", err)
	}
	return t.do(ctx, http.MethodPost, path, data, out)
}

func (t *HTTPTransport) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("client: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, method, path, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("client: decode %s %s response: %w", method, path, err)
		}
	}
	return nil
}

// decodeError turns an API error payload back into the sentinel error the
// node rejected with, so remote callers can match with errors.Is the same
// way in-process callers do.
func decodeError(status int, method, path string, body []byte) error {
	var payload struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Code != "" {
		if sentinel := domain.ErrorFromCode(payload.Code); sentinel != nil {
			return fmt.Errorf("client: %s %s: %w", method, path, sentinel)
		}
	}
	if payload.Error != "" {
		return fmt.Errorf("client: %s %s: status %d: %s", method, path, status, payload.Error)
	}
	return fmt.Errorf("client: %s %s: status %d", method, path, status)
}

func listQuery(opts domain.ListOpts) string {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

func parseWei(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}

// Compile-time interface check.
var _ Transport = (*HTTPTransport)(nil)

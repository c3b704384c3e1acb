package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veilmarket/veilmarket/internal/crypto"
	"github.com/veilmarket/veilmarket/internal/domain"
)

// RelayerClient is the REST client for the remote FHE relayer. It implements
// both Encryptor (input encryption with binding proofs) and
// domain.Coprocessor (homomorphic operations and gateway decryption).
type RelayerClient struct {
	baseURL    string
	httpClient *http.Client
	auth       *crypto.HMACAuth
}

// NewRelayerClient creates a relayer REST client.
//
// baseURL is the relayer API root, e.g. "https://relayer.veilmarket.io".
// auth may be nil for unauthenticated relayers.
func NewRelayerClient(baseURL string, auth *crypto.HMACAuth) *RelayerClient {
	return &RelayerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		auth: auth,
	}
}

// Init fetches the relayer's public key material, verifying connectivity.
func (c *RelayerClient) Init(ctx context.Context) error {
	if _, err := c.doRequest(ctx, http.MethodGet, "/v1/keys", nil); err != nil {
		return fmt.Errorf("fhe/relayer: fetch key material: %w", err)
	}
	return nil
}

type encryptRequest struct {
	Contract string         `json:"contract"`
	User     string         `json:"user"`
	Fields   []encryptField `json:"fields"`
}

type encryptField struct {
	Bits  uint8  `json:"bits"`
	Value uint64 `json:"value"`
}

type encryptResponse struct {
	Handles []domain.Handle `json:"handles"`
	Proof   hexBytes        `json:"proof"`
}

// EncryptInput encrypts the ordered fields against the (contract, user) pair
// and returns the handles plus the single binding proof.
func (c *RelayerClient) EncryptInput(ctx context.Context, contract, user common.Address, fields []domain.Field) ([]domain.Handle, []byte, error) {
	req := encryptRequest{
		Contract: contract.Hex(),
		User:     user.Hex(),
		Fields:   make([]encryptField, 0, len(fields)),
	}
	for _, f := range fields {
		req.Fields = append(req.Fields, encryptField{Bits: uint8(f.Kind), Value: f.Value})
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/inputs", req)
	if err != nil {
		return nil, nil, fmt.Errorf("fhe/relayer: encrypt input: %w", err)
	}

	var resp encryptResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, nil, fmt.Errorf("fhe/relayer: decode encrypt response: %w", err)
	}
	return resp.Handles, resp.Proof, nil
}

type verifyRequest struct {
	Proof    hexBytes        `json:"proof"`
	Handles  []domain.Handle `json:"handles"`
	Contract string          `json:"contract"`
	User     string          `json:"user"`
}

// VerifyInput checks a proof against the handles and the (contract, user)
// pair it claims to bind.
func (c *RelayerClient) VerifyInput(ctx context.Context, proof []byte, handles []domain.Handle, contract, user common.Address) error {
	req := verifyRequest{
		Proof:    proof,
		Handles:  handles,
		Contract: contract.Hex(),
		User:     user.Hex(),
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/inputs/verify", req)
	if err != nil {
		return fmt.Errorf("fhe/relayer: verify input: %w", err)
	}

	var resp struct {
		Valid bool `json:"valid"`
	}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return fmt.Errorf("fhe/relayer: decode verify response: %w", err)
	}
	if !resp.Valid {
		return domain.ErrInvalidProof
	}
	return nil
}

type opRequest struct {
	Op       string          `json:"op"`
	Operands []domain.Handle `json:"operands,omitempty"`
	Scalar   *uint64         `json:"scalar,omitempty"`
}

type opResponse struct {
	Handle domain.Handle `json:"handle"`
	Value  *uint64       `json:"value,omitempty"`
}

// EncryptScalar produces a trivially-encrypted handle for a known scalar.
func (c *RelayerClient) EncryptScalar(ctx context.Context, value uint64) (domain.Handle, error) {
	return c.op(ctx, opRequest{Op: "trivial", Scalar: &value})
}

// Add returns a handle to the homomorphic sum of a and b.
func (c *RelayerClient) Add(ctx context.Context, a, b domain.Handle) (domain.Handle, error) {
	return c.op(ctx, opRequest{Op: "add", Operands: []domain.Handle{a, b}})
}

// Eq returns an encrypted boolean handle for (a == scalar).
func (c *RelayerClient) Eq(ctx context.Context, a domain.Handle, scalar uint64) (domain.Handle, error) {
	return c.op(ctx, opRequest{Op: "eq", Operands: []domain.Handle{a}, Scalar: &scalar})
}

// Select returns ifTrue or ifFalse depending on cond, without revealing cond.
func (c *RelayerClient) Select(ctx context.Context, cond, ifTrue, ifFalse domain.Handle) (domain.Handle, error) {
	return c.op(ctx, opRequest{Op: "select", Operands: []domain.Handle{cond, ifTrue, ifFalse}})
}

// Decrypt reveals the plaintext behind a handle via the decryption gateway.
func (c *RelayerClient) Decrypt(ctx context.Context, h domain.Handle) (uint64, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/ops", opRequest{
		Op:       "decrypt",
		Operands: []domain.Handle{h},
	})
	if err != nil {
		return 0, fmt.Errorf("fhe/relayer: decrypt: %w", err)
	}

	var resp opResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return 0, fmt.Errorf("fhe/relayer: decode decrypt response: %w", err)
	}
	if resp.Value == nil {
		return 0, fmt.Errorf("fhe/relayer: decrypt response missing value")
	}
	return *resp.Value, nil
}

func (c *RelayerClient) op(ctx context.Context, req opRequest) (domain.Handle, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/v1/ops", req)
	if err != nil {
		return domain.Handle{}, fmt.Errorf("fhe/relayer: op %s: %w", req.Op, err)
	}

	var resp opResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return domain.Handle{}, fmt.Errorf("fhe/relayer: decode op response: %w", err)
	}
	return resp.Handle, nil
}

// doRequest performs an HTTP request against the relayer API, attaching HMAC
// auth headers when configured, and returns the raw response body. Non-2xx
// responses are returned as errors carrying the relayer's message.
func (c *RelayerClient) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var payload []byte
	var err error
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	if c.auth.Enabled() {
		for k, v := range c.auth.RelayerHeaders(method, path, string(payload)) {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("relayer returned %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// hexBytes marshals []byte as 0x-prefixed hex, matching the relayer wire
// format for proofs.
type hexBytes []byte

func (h hexBytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + common.Bytes2Hex(h))
}

func (h *hexBytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*h = common.FromHex(s)
	return nil
}

// Compile-time interface checks.
var (
	_ Encryptor          = (*RelayerClient)(nil)
	_ domain.Coprocessor = (*RelayerClient)(nil)
)

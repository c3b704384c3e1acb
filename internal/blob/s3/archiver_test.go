package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// memBlob is an in-memory object store implementing both blob interfaces.
type memBlob struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemBlob() *memBlob {
	return &memBlob{objects: make(map[string][]byte)}
}

func (b *memBlob) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	buf, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = buf
	return nil
}

func (b *memBlob) PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *memBlob) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("memblob: get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (b *memBlob) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var infos []domain.BlobInfo
	for path, data := range b.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(data))})
		}
	}
	return infos, nil
}

func (b *memBlob) Exists(ctx context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

// stubMarketStore serves markets by status; the archiver only lists.
type stubMarketStore struct {
	markets []domain.Market
}

func (s *stubMarketStore) NextID(ctx context.Context) (uint64, error)              { return 0, nil }
func (s *stubMarketStore) Create(ctx context.Context, m domain.Market) error       { return nil }
func (s *stubMarketStore) Update(ctx context.Context, m domain.Market) error       { return nil }
func (s *stubMarketStore) GetByID(ctx context.Context, id uint64) (domain.Market, error) {
	return domain.Market{}, domain.ErrNotFound
}
func (s *stubMarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (s *stubMarketStore) ListByCreator(ctx context.Context, creator common.Address, opts domain.ListOpts) ([]domain.Market, error) {
	return nil, nil
}
func (s *stubMarketStore) ListByStatus(ctx context.Context, status domain.MarketStatus, opts domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.markets {
		if m.Status == status {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *stubMarketStore) Count(ctx context.Context) (int64, error) { return int64(len(s.markets)), nil }

type stubBetStore struct {
	bets map[uint64][]domain.EncryptedBet
}

func (s *stubBetStore) Upsert(ctx context.Context, bet domain.EncryptedBet) error { return nil }
func (s *stubBetStore) Get(ctx context.Context, marketID uint64, bettor common.Address) (domain.EncryptedBet, error) {
	return domain.EncryptedBet{}, domain.ErrNotFound
}
func (s *stubBetStore) ListByMarket(ctx context.Context, marketID uint64) ([]domain.EncryptedBet, error) {
	return s.bets[marketID], nil
}
func (s *stubBetStore) CountByMarket(ctx context.Context, marketID uint64) (uint64, error) {
	return uint64(len(s.bets[marketID])), nil
}
func (s *stubBetStore) MarkClaimed(ctx context.Context, marketID uint64, bettor common.Address) error {
	return nil
}
func (s *stubBetStore) MarkRefunded(ctx context.Context, marketID uint64, bettor common.Address) error {
	return nil
}

type stubAuditStore struct {
	mu     sync.Mutex
	events []string
}

func (s *stubAuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *stubAuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func terminalMarket(id uint64, status domain.MarketStatus, updatedAt time.Time) domain.Market {
	return domain.Market{
		ID:        id,
		Creator:   common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Question:  "Does the archive sweep pick this up?",
		Options:   []string{"Yes", "No"},
		Oracle:    common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"),
		Status:    status,
		TotalPool: big.NewInt(300),
		UpdatedAt: updatedAt,
	}
}

func TestArchiveSweep(t *testing.T) {
	ctx := context.Background()
	cutoff := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	t.Run("OnlyMarketsBeforeCutoff", func(t *testing.T) {
		blob := newMemBlob()
		markets := &stubMarketStore{markets: []domain.Market{
			terminalMarket(1, domain.MarketStatusSettled, cutoff.Add(-48*time.Hour)),
			terminalMarket(2, domain.MarketStatusSettled, cutoff.Add(time.Hour)),
			terminalMarket(3, domain.MarketStatusCancelled, cutoff.Add(-time.Hour)),
		}}
		bets := &stubBetStore{bets: map[uint64][]domain.EncryptedBet{
			1: {{
				MarketID:  1,
				Bettor:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
				Deposited: big.NewInt(150),
			}},
		}}
		audit := &stubAuditStore{}
		arch := NewArchiver(blob, markets, bets, audit)

		n, err := arch.ArchiveSettled(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n, "the settled market after the cutoff stays")

		data, ok := blob.objects["archive/settled/2026-08.jsonl"]
		require.True(t, ok, "snapshot lands at the monthly key")
		assert.Contains(t, string(data), `"id":1`)
		assert.NotContains(t, string(data), `"id":2`)
		assert.Contains(t, string(data), `"deposited_wei":"150"`)

		assert.Equal(t, []string{"archive.settled"}, audit.events)
	})

	t.Run("CancelledSweepSeparateKey", func(t *testing.T) {
		blob := newMemBlob()
		markets := &stubMarketStore{markets: []domain.Market{
			terminalMarket(3, domain.MarketStatusCancelled, cutoff.Add(-time.Hour)),
		}}
		arch := NewArchiver(blob, markets, &stubBetStore{}, &stubAuditStore{})

		n, err := arch.ArchiveCancelled(ctx, cutoff)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, ok := blob.objects["archive/cancelled/2026-08.jsonl"]
		assert.True(t, ok)
	})

	t.Run("NothingToArchiveWritesNothing", func(t *testing.T) {
		blob := newMemBlob()
		markets := &stubMarketStore{markets: []domain.Market{
			terminalMarket(1, domain.MarketStatusSettled, cutoff.Add(time.Hour)),
		}}
		audit := &stubAuditStore{}
		arch := NewArchiver(blob, markets, &stubBetStore{}, audit)

		n, err := arch.ArchiveSettled(ctx, cutoff)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Empty(t, blob.objects)
		assert.Empty(t, audit.events)
	})
}

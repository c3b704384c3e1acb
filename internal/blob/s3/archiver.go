package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/veilmarket/veilmarket/internal/domain"
)

// ArchiveImpl implements domain.Archiver by exporting terminal-state markets
// with their encrypted bets to JSONL snapshots in object storage. Markets are
// never deleted from the primary store; the archive is an additional durable
// copy for historical query.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets domain.MarketStore
	bets    domain.BetStore
	audit   domain.AuditStore
}

// NewArchiver creates a new ArchiveImpl.
func NewArchiver(writer domain.BlobWriter, markets domain.MarketStore, bets domain.BetStore, audit domain.AuditStore) *ArchiveImpl {
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		bets:    bets,
		audit:   audit,
	}
}

// marketSnapshot is one archived market with its bet rows. Handles stay
// opaque hex; nothing in the snapshot reveals what was bet on what.
type marketSnapshot struct {
	Market archivedMarket `json:"market"`
	Bets   []archivedBet  `json:"bets"`
}

type archivedMarket struct {
	ID            uint64    `json:"id"`
	Creator       string    `json:"creator"`
	Question      string    `json:"question"`
	Options       []string  `json:"options"`
	EndTime       time.Time `json:"end_time"`
	Oracle        string    `json:"oracle"`
	Status        string    `json:"status"`
	WinningOption uint8     `json:"winning_option,omitempty"`
	TotalPoolWei  string    `json:"total_pool_wei"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type archivedBet struct {
	Bettor       string    `json:"bettor"`
	OptionHandle string    `json:"option_handle"`
	AmountHandle string    `json:"amount_handle"`
	DepositedWei string    `json:"deposited_wei"`
	Claimed      bool      `json:"claimed"`
	Refunded     bool      `json:"refunded"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// ArchiveSettled exports settled markets whose last update is strictly
// before the cutoff. Snapshots land at archive/settled/YYYY-MM.jsonl and the
// archival event is recorded in the audit log. Returns the number of markets
// archived.
func (a *ArchiveImpl) ArchiveSettled(ctx context.Context, before time.Time) (int64, error) {
	return a.archiveByStatus(ctx, domain.MarketStatusSettled, "settled", before)
}

// ArchiveCancelled exports cancelled markets whose last update is strictly
// before the cutoff to archive/cancelled/YYYY-MM.jsonl.
func (a *ArchiveImpl) ArchiveCancelled(ctx context.Context, before time.Time) (int64, error) {
	return a.archiveByStatus(ctx, domain.MarketStatusCancelled, "cancelled", before)
}

func (a *ArchiveImpl) archiveByStatus(ctx context.Context, status domain.MarketStatus, kind string, before time.Time) (int64, error) {
	markets, err := a.markets.ListByStatus(ctx, status, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
	}

	var snapshots []marketSnapshot
	for _, m := range markets {
		if !m.UpdatedAt.Before(before) {
			continue
		}
		bets, err := a.bets.ListByMarket(ctx, m.ID)
		if err != nil {
			return 0, fmt.Errorf("s3blob: archive %s bets for market %d: %w", kind, m.ID, err)
		}
		snapshots = append(snapshots, snapshot(m, bets))
	}
	if len(snapshots) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(snapshots)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
	}

	path := archivePath(kind, before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
	}

	count := int64(len(snapshots))
	if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
	}
	return count, nil
}

func snapshot(m domain.Market, bets []domain.EncryptedBet) marketSnapshot {
	am := archivedMarket{
		ID:           m.ID,
		Creator:      m.Creator.Hex(),
		Question:     m.Question,
		Options:      m.Options,
		EndTime:      m.EndTime,
		Oracle:       m.Oracle.Hex(),
		Status:       m.Status.String(),
		TotalPoolWei: m.TotalPool.String(),
		CancelReason: m.CancelReason,
		UpdatedAt:    m.UpdatedAt,
	}
	if m.Status == domain.MarketStatusSettled {
		am.WinningOption = m.WinningOption
	}

	abs := make([]archivedBet, 0, len(bets))
	for _, b := range bets {
		abs = append(abs, archivedBet{
			Bettor:       b.Bettor.Hex(),
			OptionHandle: b.OptionHandle.Hex(),
			AmountHandle: b.AmountHandle.Hex(),
			DepositedWei: b.Deposited.String(),
			Claimed:      b.Claimed,
			Refunded:     b.Refunded,
			SubmittedAt:  b.SubmittedAt,
		})
	}
	return marketSnapshot{Market: am, Bets: abs}
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/settled/2025-01.jsonl
//	archive/cancelled/2025-01.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// Compile-time interface check.
var _ domain.Archiver = (*ArchiveImpl)(nil)

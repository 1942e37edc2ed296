package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kamalbuilds/aptos-markets/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow store interfaces required by the archiver.
//
// The archiver only requires the time-ranged query methods it actually
// calls, not the full domain store interfaces. The Postgres stores satisfy
// these implicitly.
// ---------------------------------------------------------------------------

// MarketArchiveStore provides read access to resolved markets for archival.
type MarketArchiveStore interface {
	ListResolvedBefore(ctx context.Context, before time.Time) ([]domain.MarketRecord, error)
}

// PriceArchiveStore provides read access to old price snapshots for
// archival.
type PriceArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.PricePoint, error)
}

// AuditArchiveStore provides read access to old audit entries for archival.
type AuditArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.AuditEntry, error)
}

// ---------------------------------------------------------------------------
// ArchiveImpl
// ---------------------------------------------------------------------------

// ArchiveImpl implements domain.Archiver by querying the domain stores for
// settled records, serializing them to JSONL, and uploading the result to
// blob storage.
//
// Deletion of the archived records from the primary store is intentionally
// NOT performed here. That is a separate, explicit step to be executed
// after the archive has been verified.
type ArchiveImpl struct {
	writer  domain.BlobWriter
	markets MarketArchiveStore
	prices  PriceArchiveStore
	audit   domain.AuditStore
	prefix  string
}

// NewArchiver creates a new ArchiveImpl. The prefix is prepended to every
// archive key; pass "" for the default "archive".
func NewArchiver(
	writer domain.BlobWriter,
	markets MarketArchiveStore,
	prices PriceArchiveStore,
	audit domain.AuditStore,
	prefix string,
) *ArchiveImpl {
	if prefix == "" {
		prefix = "archive"
	}
	return &ArchiveImpl{
		writer:  writer,
		markets: markets,
		prices:  prices,
		audit:   audit,
		prefix:  prefix,
	}
}

var _ domain.Archiver = (*ArchiveImpl)(nil)

// ArchiveResolvedMarkets queries markets resolved before the cutoff,
// serializes them to JSONL, and uploads the file at
// {prefix}/markets/YYYY-MM.jsonl. The archival event is recorded in the
// audit log.
func (a *ArchiveImpl) ArchiveResolvedMarkets(ctx context.Context, before time.Time) (string, int, error) {
	records, err := a.markets.ListResolvedBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive markets query: %w", err)
	}
	if len(records) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive markets marshal: %w", err)
	}

	path := a.archivePath("markets", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive markets upload: %w", err)
	}

	count := len(records)

	if err := a.audit.Log(ctx, "archive.markets", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return path, count, fmt.Errorf("s3blob: archive markets audit log: %w", err)
	}

	return path, count, nil
}

// ArchivePriceHistory queries price snapshots older than the cutoff,
// serializes them to JSONL, and uploads the file at
// {prefix}/price_history/YYYY-MM.jsonl. The archival event is recorded in
// the audit log.
func (a *ArchiveImpl) ArchivePriceHistory(ctx context.Context, before time.Time) (string, int, error) {
	points, err := a.prices.ListBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive price history query: %w", err)
	}
	if len(points) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(points)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive price history marshal: %w", err)
	}

	path := a.archivePath("price_history", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive price history upload: %w", err)
	}

	count := len(points)

	if err := a.audit.Log(ctx, "archive.price_history", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return path, count, fmt.Errorf("s3blob: archive price history audit log: %w", err)
	}

	return path, count, nil
}

// ArchiveAuditLog queries audit entries created before the cutoff,
// serializes them to JSONL, and uploads the file at
// {prefix}/audit_log/YYYY-MM.jsonl. The archival event itself is recorded
// in the (live) audit log.
func (a *ArchiveImpl) ArchiveAuditLog(ctx context.Context, before time.Time) (string, int, error) {
	entries, err := a.audit.ListBefore(ctx, before)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive audit log query: %w", err)
	}
	if len(entries) == 0 {
		return "", 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive audit log marshal: %w", err)
	}

	path := a.archivePath("audit_log", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive audit log upload: %w", err)
	}

	count := len(entries)

	if err := a.audit.Log(ctx, "archive.audit_log", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	}); err != nil {
		return path, count, fmt.Errorf("s3blob: archive audit log record: %w", err)
	}

	return path, count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the blob key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/markets/2025-01.jsonl
//	archive/price_history/2025-01.jsonl
//	archive/audit_log/2025-01.jsonl
func (a *ArchiveImpl) archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("%s/%s/%s.jsonl", a.prefix, kind, before.Format("2006-01"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
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

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
)

// Archiver implements domain.Archiver: aged journal and audit rows are
// serialized to JSONL, uploaded to object storage, and only then deleted
// from the primary store. A failed upload leaves the rows in place.
type Archiver struct {
	writer domain.BlobWriter
	trades domain.TradeStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing to the given blob backend.
func NewArchiver(writer domain.BlobWriter, trades domain.TradeStore, audit domain.AuditStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		trades: trades,
		audit:  audit,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveTrades uploads all closed trades opened before the cutoff to
// archive/trades/YYYY-MM.jsonl and deletes them from the journal. It returns
// the number of rows archived.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.String("path", path),
		slog.Int("uploaded", len(trades)),
		slog.Int64("deleted", deleted),
	)

	a.auditEvent(ctx, "archive.trades", path, int64(len(trades)), before)
	return int64(len(trades)), nil
}

// ArchiveAudit uploads audit entries created before the cutoff to
// archive/audit/YYYY-MM.jsonl and deletes them. It returns the number of
// rows archived.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (int64, error) {
	entries, err := a.audit.List(ctx, domain.ListOpts{Until: &before})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit query: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(entries)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive audit marshal: %w", err)
	}

	path := archivePath("audit", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive audit upload: %w", err)
	}

	deleted, err := a.audit.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(entries)), fmt.Errorf("s3blob: archive audit prune: %w", err)
	}

	a.logger.InfoContext(ctx, "audit log archived",
		slog.String("path", path),
		slog.Int("uploaded", len(entries)),
		slog.Int64("deleted", deleted),
	)

	a.auditEvent(ctx, "archive.audit", path, int64(len(entries)), before)
	return int64(len(entries)), nil
}

// auditEvent records the archival itself. Failures are logged, not returned,
// so a broken audit table cannot undo a completed archive.
func (a *Archiver) auditEvent(ctx context.Context, event, path string, count int64, before time.Time) {
	err := a.audit.Log(ctx, event, "info", map[string]any{
		"path":   path,
		"count":  count,
		"before": before.Format(time.RFC3339),
	})
	if err != nil {
		a.logger.WarnContext(ctx, "archive audit event failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time.
//
//	archive/trades/2026-08.jsonl
//	archive/audit/2026-08.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// line per record.
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
var _ domain.Archiver = (*Archiver)(nil)

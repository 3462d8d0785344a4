package s3blob

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/bithumbbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (w *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.err != nil {
		return w.err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(data); err != nil {
		return err
	}
	if w.puts == nil {
		w.puts = make(map[string][]byte)
	}
	w.puts[path] = buf.Bytes()
	return nil
}

func (w *fakeWriter) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return w.Put(ctx, path, data, "")
}

type fakeTradeStore struct {
	rows    []domain.TradeRecord
	deleted int64
}

func (s *fakeTradeStore) Insert(context.Context, domain.TradeRecord) error { return nil }

func (s *fakeTradeStore) CloseBySymbol(context.Context, string, float64, time.Time) (domain.TradeRecord, error) {
	return domain.TradeRecord{}, domain.ErrNotFound
}

func (s *fakeTradeStore) ListBySymbol(context.Context, string, domain.ListOpts) ([]domain.TradeRecord, error) {
	return nil, nil
}

func (s *fakeTradeStore) DailySummary(context.Context, time.Time) (domain.DailySummary, error) {
	return domain.DailySummary{}, nil
}

func (s *fakeTradeStore) ListBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	var out []domain.TradeRecord
	for _, r := range s.rows {
		if r.OpenedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeTradeStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.rows[:0]
	for _, r := range s.rows {
		if r.OpenedAt.Before(before) {
			s.deleted++
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
	return s.deleted, nil
}

type fakeAuditStore struct {
	entries []domain.AuditEntry
	events  []string
	deleted int64
}

func (s *fakeAuditStore) Log(_ context.Context, event, _ string, _ map[string]any) error {
	s.events = append(s.events, event)
	return nil
}

func (s *fakeAuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	var out []domain.AuditEntry
	for _, e := range s.entries {
		if opts.Until != nil && e.CreatedAt.After(*opts.Until) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *fakeAuditStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.CreatedAt.Before(before) {
			s.deleted++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return s.deleted, nil
}

func testArchiver(w domain.BlobWriter, trades *fakeTradeStore, audit *fakeAuditStore) *Archiver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewArchiver(w, trades, audit, logger)
}

func TestArchiveTradesUploadsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	old := cutoff.Add(-48 * time.Hour)
	recent := cutoff.Add(time.Hour)

	trades := &fakeTradeStore{rows: []domain.TradeRecord{
		{TradeID: "BTC_1", Symbol: "BTC", Status: domain.TradeStatusClosed, OpenedAt: old},
		{TradeID: "ETH_1", Symbol: "ETH", Status: domain.TradeStatusClosed, OpenedAt: old.Add(time.Hour)},
		{TradeID: "BTC_2", Symbol: "BTC", Status: domain.TradeStatusOpen, OpenedAt: recent},
	}}
	audit := &fakeAuditStore{}
	writer := &fakeWriter{}

	count, err := testArchiver(writer, trades, audit).ArchiveTrades(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	body, ok := writer.puts["archive/trades/2026-09.jsonl"]
	require.True(t, ok)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "BTC_1")

	// Archived rows are gone, the recent one stays.
	require.Len(t, trades.rows, 1)
	assert.Equal(t, "BTC_2", trades.rows[0].TradeID)

	assert.Contains(t, audit.events, "archive.trades")
}

func TestArchiveTradesNothingToDo(t *testing.T) {
	writer := &fakeWriter{}
	trades := &fakeTradeStore{}
	audit := &fakeAuditStore{}

	count, err := testArchiver(writer, trades, audit).ArchiveTrades(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Empty(t, writer.puts)
	assert.Empty(t, audit.events)
}

func TestArchiveTradesFailedUploadKeepsRows(t *testing.T) {
	cutoff := time.Now()
	trades := &fakeTradeStore{rows: []domain.TradeRecord{
		{TradeID: "BTC_1", Symbol: "BTC", OpenedAt: cutoff.Add(-time.Hour)},
	}}
	audit := &fakeAuditStore{}
	writer := &fakeWriter{err: assert.AnError}

	_, err := testArchiver(writer, trades, audit).ArchiveTrades(context.Background(), cutoff)
	require.Error(t, err)
	assert.Len(t, trades.rows, 1)
	assert.Zero(t, trades.deleted)
}

func TestArchiveAuditUploadsAndPrunes(t *testing.T) {
	cutoff := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	audit := &fakeAuditStore{entries: []domain.AuditEntry{
		{ID: 1, Event: "breaker.trip", CreatedAt: cutoff.Add(-24 * time.Hour)},
		{ID: 2, Event: "reconcile", CreatedAt: cutoff.Add(24 * time.Hour)},
	}}
	writer := &fakeWriter{}

	count, err := testArchiver(writer, &fakeTradeStore{}, audit).ArchiveAudit(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	_, ok := writer.puts["archive/audit/2026-09.jsonl"]
	assert.True(t, ok)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, int64(2), audit.entries[0].ID)
}

package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// LedgerArchiver periodically snapshots old liquidation ledger entries to
// object storage as JSONL, partitioned by year-month. Records stay in the
// primary store; the archive is a retention copy, not a migration.
type LedgerArchiver struct {
	writer        domain.BlobWriter
	ledger        domain.LedgerStore
	retentionDays int
	logger        *slog.Logger
}

// NewLedgerArchiver creates a LedgerArchiver. retentionDays controls the
// cutoff: entries older than that many days are included in each archive run.
func NewLedgerArchiver(writer domain.BlobWriter, ledger domain.LedgerStore, retentionDays int, logger *slog.Logger) *LedgerArchiver {
	if retentionDays <= 0 {
		retentionDays = 30
	}
	return &LedgerArchiver{
		writer:        writer,
		ledger:        ledger,
		retentionDays: retentionDays,
		logger:        logger.With(slog.String("component", "ledger_archiver")),
	}
}

// Run archives once at startup and then every 24 hours until the context is
// cancelled. Archive failures are logged, never fatal.
func (a *LedgerArchiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		if n, err := a.ArchiveOnce(ctx); err != nil {
			a.logger.Error("ledger archive failed", slog.String("error", err.Error()))
		} else if n > 0 {
			a.logger.Info("ledger archived", slog.Int("records", n))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ArchiveOnce uploads all ledger entries older than the retention cutoff and
// returns the number of archived records.
func (a *LedgerArchiver) ArchiveOnce(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -a.retentionDays)

	records, err := a.ledger.ListBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger query: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger marshal: %w", err)
	}

	path := archivePath(cutoff)
	if err := a.writer.Put(ctx, path, buf, "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive ledger upload: %w", err)
	}

	return len(records), nil
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff time: archive/liquidations/2026-08.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/liquidations/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
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

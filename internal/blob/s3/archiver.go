package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

// ---------------------------------------------------------------------------
// Narrow interfaces required by the archiver.
//
// The archiver only needs the query methods it actually calls, not the full
// domain store interfaces. The Postgres AlertStore and the monitor satisfy
// these implicitly.
// ---------------------------------------------------------------------------

// AlertArchiveStore provides read access to alerts for archival purposes.
type AlertArchiveStore interface {
	// ListBefore returns all alerts created strictly before the given cutoff
	// time, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.Alert, error)
}

// ViewSource supplies the current state of every tracked book.
type ViewSource interface {
	Views() []*domain.BookView
}

// ---------------------------------------------------------------------------
// Archiver
// ---------------------------------------------------------------------------

// Archiver serializes alert history and order-book snapshots to JSONL and
// uploads them to S3.
//
// Deletion of archived alerts from the primary store is intentionally NOT
// performed here -- pruning stays with the alert service so it can run as a
// separate, explicit step once the archive has landed.
type Archiver struct {
	writer domain.BlobWriter
	alerts AlertArchiveStore
	views  ViewSource
	audit  domain.AuditStore
}

// NewArchiver creates a new Archiver. alerts and audit may be nil when the
// deployment runs without Postgres; ArchiveAlerts then reports zero records.
func NewArchiver(
	writer domain.BlobWriter,
	alerts AlertArchiveStore,
	views ViewSource,
	audit domain.AuditStore,
) *Archiver {
	return &Archiver{
		writer: writer,
		alerts: alerts,
		views:  views,
		audit:  audit,
	}
}

// ArchiveAlerts queries all alerts before the cutoff, serializes them to
// JSONL, and uploads the file to S3 at alerts/YYYY/MM/DD/HHMMSS.jsonl. The
// archival event is recorded in the audit log and the count of archived
// records is returned.
func (a *Archiver) ArchiveAlerts(ctx context.Context, before time.Time) (int64, error) {
	if a.alerts == nil {
		return 0, nil
	}

	alerts, err := a.alerts.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts query: %w", err)
	}
	if len(alerts) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(alerts)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts marshal: %w", err)
	}

	path := archivePath("alerts", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive alerts upload: %w", err)
	}

	count := int64(len(alerts))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.alerts", map[string]any{
			"path":   path,
			"count":  count,
			"before": before.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive alerts audit log: %w", err)
		}
	}

	return count, nil
}

// ArchiveBooks snapshots every tracked book, serializes the snapshots to
// JSONL, and uploads the file to S3 at books/YYYY/MM/DD/HHMMSS.jsonl. The
// count of archived books is returned.
func (a *Archiver) ArchiveBooks(ctx context.Context, at time.Time) (int64, error) {
	views := a.views.Views()
	if len(views) == 0 {
		return 0, nil
	}

	snaps := make([]domain.OrderbookSnapshot, 0, len(views))
	for _, v := range views {
		snaps = append(snaps, v.Snapshot())
	}

	buf, err := marshalJSONL(snaps)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive books marshal: %w", err)
	}

	path := archivePath("books", at)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive books upload: %w", err)
	}

	count := int64(len(snaps))

	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.books", map[string]any{
			"path":  path,
			"count": count,
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive books audit log: %w", err)
		}
	}

	return count, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// archivePath builds the S3 key for an archive file, partitioned by day with
// a time-of-day filename so repeated runs within a day never collide.
//
//	alerts/2025/06/01/120000.jsonl
//	books/2025/06/01/120000.jsonl
func archivePath(kind string, at time.Time) string {
	return fmt.Sprintf("%s/%s.jsonl", kind, at.UTC().Format("2006/01/02/150405"))
}

// marshalJSONL serialises a slice of values as newline-delimited JSON (JSONL).
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

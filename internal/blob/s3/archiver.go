package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/valentinrey/fundingbot/internal/domain"
)

// archiveBatchSize caps how many rows a single run exports per table. Rows
// beyond the cap stay in the database and are picked up by the next run.
const archiveBatchSize = 50000

// Archiver implements domain.Archiver by exporting old funding samples and
// executions to NDJSON objects in cold storage, then deleting the exported
// rows from the primary store. Deletion only ever covers rows that were
// uploaded: when a batch fills up, the delete cutoff is pulled back to the
// timestamp of the last exported row.
type Archiver struct {
	writer  domain.BlobWriter
	funding domain.FundingStore
	execs   domain.ExecutionStore
	audit   domain.AuditStore
	logger  *slog.Logger
}

// NewArchiver creates an Archiver writing through the given blob writer.
func NewArchiver(
	writer domain.BlobWriter,
	funding domain.FundingStore,
	execs domain.ExecutionStore,
	audit domain.AuditStore,
	logger *slog.Logger,
) *Archiver {
	return &Archiver{
		writer:  writer,
		funding: funding,
		execs:   execs,
		audit:   audit,
		logger:  logger.With("component", "archiver"),
	}
}

var _ domain.Archiver = (*Archiver)(nil)

// ArchiveFunding exports funding-rate samples fetched before the cutoff to
// archive/funding/YYYY-MM/<run>.jsonl and deletes them from the database.
// Returns the number of rows archived.
func (a *Archiver) ArchiveFunding(ctx context.Context, before time.Time) (int64, error) {
	rates, err := a.funding.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding query: %w", err)
	}
	if len(rates) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(rates)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding marshal: %w", err)
	}

	path := archivePath("funding", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive funding upload: %w", err)
	}

	// If the batch filled up, rows newer than the last exported sample are
	// still unarchived. Equal-timestamp rows at the boundary survive and are
	// re-exported on the next run rather than lost.
	cutoff := before
	if len(rates) == archiveBatchSize {
		cutoff = rates[len(rates)-1].FetchedAt
	}

	deleted, err := a.funding.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive funding delete: %w", err)
	}

	count := int64(len(rates))
	a.logger.Info("archived funding samples",
		"path", path, "archived", count, "deleted", deleted)

	if err := a.audit.Log(ctx, "archive.funding", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive funding audit log: %w", err)
	}
	return count, nil
}

// ArchiveExecutions exports execution records created before the cutoff to
// archive/executions/YYYY-MM/<run>.jsonl and deletes them from the database.
// Returns the number of rows archived.
func (a *Archiver) ArchiveExecutions(ctx context.Context, before time.Time) (int64, error) {
	execs, err := a.execs.ListBefore(ctx, before, archiveBatchSize)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions query: %w", err)
	}
	if len(execs) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(execs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions marshal: %w", err)
	}

	path := archivePath("executions", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive executions upload: %w", err)
	}

	cutoff := before
	if len(execs) == archiveBatchSize {
		cutoff = execs[len(execs)-1].StartedAt
	}

	deleted, err := a.execs.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive executions delete: %w", err)
	}

	count := int64(len(execs))
	a.logger.Info("archived executions",
		"path", path, "archived", count, "deleted", deleted)

	if err := a.audit.Log(ctx, "archive.executions", map[string]any{
		"path":    path,
		"count":   count,
		"deleted": deleted,
		"before":  before.Format(time.RFC3339),
	}); err != nil {
		return count, fmt.Errorf("s3blob: archive executions audit log: %w", err)
	}
	return count, nil
}

// archivePath builds the object key for one archive run, partitioned by the
// year-month of the cutoff with a per-run timestamp so repeated runs within
// the same month never overwrite each other.
//
//	archive/funding/2026-08/20260830T031500.jsonl
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl",
		kind, before.Format("2006-01"), time.Now().UTC().Format("20060102T150405"))
}

// marshalJSONL serialises records as newline-delimited JSON, one compact
// object per line.
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

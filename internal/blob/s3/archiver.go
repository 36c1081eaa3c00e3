package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// multipartThreshold is the archive size above which uploads go through
// the multipart manager.
const multipartThreshold = 16 * 1024 * 1024

// ResolvedLister is the query the archiver needs from the repository.
type ResolvedLister interface {
	ListResolved(ctx context.Context, from, to time.Time) ([]domain.Wager, error)
}

// WagerArchiver implements domain.Archiver by writing resolved wagers as
// JSONL to archive/wagers/YYYY-MM.jsonl. Records stay in the primary
// store.
type WagerArchiver struct {
	writer domain.BlobWriter
	wagers ResolvedLister
	audit  domain.AuditStore
}

// NewArchiver creates a WagerArchiver. audit may be nil.
func NewArchiver(writer domain.BlobWriter, wagers ResolvedLister, audit domain.AuditStore) *WagerArchiver {
	return &WagerArchiver{writer: writer, wagers: wagers, audit: audit}
}

// ArchiveResolved uploads wagers resolved in [from, to) and returns how
// many were written. The object is named after the month of from, so a
// window should not span months.
func (a *WagerArchiver) ArchiveResolved(ctx context.Context, from, to time.Time) (int64, error) {
	wagers, err := a.wagers.ListResolved(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive query: %w", err)
	}
	if len(wagers) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(wagers)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive marshal: %w", err)
	}

	path := ArchivePath(from)
	if len(buf) > multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive upload: %w", err)
	}

	count := int64(len(wagers))
	if a.audit != nil {
		if err := a.audit.Log(ctx, "archive.wagers", map[string]any{
			"path":  path,
			"count": count,
			"from":  from.Format(time.RFC3339),
			"to":    to.Format(time.RFC3339),
		}); err != nil {
			return count, fmt.Errorf("s3blob: archive audit log: %w", err)
		}
	}
	return count, nil
}

// ArchivePath is the object key for the month containing t.
func ArchivePath(t time.Time) string {
	return fmt.Sprintf("archive/wagers/%s.jsonl", t.UTC().Format("2006-01"))
}

// marshalJSONL encodes one compact JSON value per line.
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

var _ domain.Archiver = (*WagerArchiver)(nil)

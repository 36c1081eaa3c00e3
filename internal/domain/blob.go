package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// EvidenceArchive keeps fetched evidence text addressable by its digest so
// a verdict can be re-checked after the source page changes.
type EvidenceArchive interface {
	StoreEvidence(ctx context.Context, digest, url, text string) error
}

// Archiver copies resolved wagers to cold storage.
type Archiver interface {
	ArchiveResolved(ctx context.Context, from, to time.Time) (int64, error)
}

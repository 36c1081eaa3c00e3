package s3blob

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/alanyoungcy/wagerbot/internal/domain"
)

// EvidenceStore keeps fetched evidence text at evidence/<sha256>.txt.
// Objects are content addressed, so an existing object is never rewritten.
type EvidenceStore struct {
	writer domain.BlobWriter
	reader domain.BlobReader
}

// NewEvidenceStore creates an EvidenceStore.
func NewEvidenceStore(writer domain.BlobWriter, reader domain.BlobReader) *EvidenceStore {
	return &EvidenceStore{writer: writer, reader: reader}
}

// EvidencePath is the object key for a digest.
func EvidencePath(digest string) string {
	return "evidence/" + digest + ".txt"
}

func (e *EvidenceStore) StoreEvidence(ctx context.Context, digest, url, text string) error {
	if !validDigest(digest) {
		return fmt.Errorf("s3blob: evidence digest %q: %w", digest, domain.ErrValidation)
	}
	path := EvidencePath(digest)
	exists, err := e.reader.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	body := "source: " + url + "\n\n" + text
	if err := e.writer.Put(ctx, path, strings.NewReader(body), "text/plain; charset=utf-8"); err != nil {
		return fmt.Errorf("s3blob: store evidence %s: %w", digest, err)
	}
	return nil
}

// LoadEvidence returns the stored snapshot for digest.
func (e *EvidenceStore) LoadEvidence(ctx context.Context, digest string) (string, error) {
	if !validDigest(digest) {
		return "", fmt.Errorf("s3blob: evidence digest %q: %w", digest, domain.ErrValidation)
	}
	rc, err := e.reader.Get(ctx, EvidencePath(digest))
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("s3blob: read evidence %s: %w", digest, err)
	}
	return string(b), nil
}

func validDigest(d string) bool {
	if len(d) != 64 {
		return false
	}
	_, err := hex.DecodeString(d)
	return err == nil
}

var _ domain.EvidenceArchive = (*EvidenceStore)(nil)

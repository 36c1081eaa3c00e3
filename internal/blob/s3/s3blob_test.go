package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerbot/internal/arbiter"
	"github.com/alanyoungcy/wagerbot/internal/domain"
	"github.com/alanyoungcy/wagerbot/internal/store/memory"
)

// fakeBucket is an in-memory object store.
type fakeBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newFakeBucket() *fakeBucket { return &fakeBucket{objects: map[string][]byte{}} }

func (b *fakeBucket) Put(_ context.Context, path string, data io.Reader, _ string) error {
	raw, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = raw
	b.puts++
	return nil
}

func (b *fakeBucket) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	return b.Put(ctx, path, data, "")
}

func (b *fakeBucket) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", path, domain.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (b *fakeBucket) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.BlobInfo
	for p, raw := range b.objects {
		if strings.HasPrefix(p, prefix) {
			out = append(out, domain.BlobInfo{Path: p, Size: int64(len(raw))})
		}
	}
	return out, nil
}

func (b *fakeBucket) Exists(_ context.Context, path string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[path]
	return ok, nil
}

func TestEvidenceStoreIsContentAddressed(t *testing.T) {
	bucket := newFakeBucket()
	store := NewEvidenceStore(bucket, bucket)
	digest := arbiter.Digest("final score 2-1")

	require.NoError(t, store.StoreEvidence(context.Background(), digest, "https://scores.example", "final score 2-1"))
	require.NoError(t, store.StoreEvidence(context.Background(), digest, "https://scores.example", "final score 2-1"))
	assert.Equal(t, 1, bucket.puts)

	text, err := store.LoadEvidence(context.Background(), digest)
	require.NoError(t, err)
	assert.Equal(t, "source: https://scores.example\n\nfinal score 2-1", text)

	err = store.StoreEvidence(context.Background(), "../etc/passwd", "u", "x")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = store.LoadEvidence(context.Background(), arbiter.Digest("missing"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchiveResolvedWritesMonthlyJSONL(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewRepository()
	march := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	for i, resolved := range []bool{true, false, true} {
		w := domain.Wager{ID: fmt.Sprintf("wager_%d", i), PlayerA: "0xa", Status: domain.WagerWaiting, CreatedAt: march}
		if resolved {
			at := march.Add(time.Duration(i) * time.Hour)
			w.Status = domain.WagerResolved
			w.ResolvedAt = &at
		}
		require.NoError(t, repo.Commit(ctx, domain.Batch{Wager: &w}))
	}

	bucket := newFakeBucket()
	audit := memory.NewAuditStore()
	a := NewArchiver(bucket, repo, audit)

	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveResolved(ctx, from, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	raw, ok := bucket.objects["archive/wagers/2026-03.jsonl"]
	require.True(t, ok)
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var w domain.Wager
		require.NoError(t, json.Unmarshal(sc.Bytes(), &w))
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"wager_0", "wager_2"}, ids)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "archive.wagers", entries[0].Event)

	n, err = a.ArchiveResolved(ctx, from.AddDate(0, 1, 0), from.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNormaliseEndpoint(t *testing.T) {
	assert.Equal(t, "https://minio:9000", normaliseEndpoint("minio:9000", true))
	assert.Equal(t, "http://minio:9000", normaliseEndpoint("minio:9000", false))
	assert.Equal(t, "https://r2.example", normaliseEndpoint("https://r2.example", false))
}

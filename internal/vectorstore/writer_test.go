package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalita/healthassist/internal/chunk"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  int   // fail this many calls before succeeding
	err   error // error to return while failing
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail > 0 {
		f.fail--
		if f.err != nil {
			return nil, f.err
		}
		return nil, errors.New("embedding backend unavailable")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

func testChunks(n int) []chunk.Chunk {
	chunks := make([]chunk.Chunk, n)
	for i := range chunks {
		chunks[i] = chunk.Chunk{
			Text:       fmt.Sprintf("chunk %d body", i),
			SourceID:   "guide.pdf",
			SourceType: chunk.SourcePDF,
			Title:      "guide.pdf",
			Page:       1,
			TotalPages: 1,
			Index:      i,
			Total:      n,
		}
	}
	return chunks
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func TestChunkIDDeterministic(t *testing.T) {
	t.Parallel()
	a := ChunkID("guide.pdf", 0)
	b := ChunkID("guide.pdf", 0)
	require.Equal(t, a, b)
	require.NotEqual(t, a, ChunkID("guide.pdf", 1))
	require.NotEqual(t, a, ChunkID("other.pdf", 0))
	require.Contains(t, a, "#000")
}

func TestAddChunksBatchesInOrder(t *testing.T) {
	t.Parallel()
	client, fake := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	embedder := &fakeEmbedder{}
	w := NewWriter(embedder, WriterConfig{BatchSize: 10, BatchInterval: time.Millisecond}, quietLogger())

	require.NoError(t, w.AddChunks(ctx, coll, "guide.pdf", testChunks(25)))
	require.Equal(t, 3, embedder.calls)

	stored := fake.collections[coll.ID]
	require.Len(t, stored.ids, 25)
	for i, id := range stored.ids {
		require.Equal(t, ChunkID("guide.pdf", i), id)
		require.Equal(t, "guide.pdf", stored.metas[i]["source"])
	}
}

func TestAddChunksRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	embedder := &fakeEmbedder{fail: 2}
	w := NewWriter(embedder, WriterConfig{BatchSize: 10, Retries: 3, BatchInterval: time.Millisecond, Backoff: time.Millisecond}, quietLogger())

	require.NoError(t, w.AddChunks(ctx, coll, "guide.pdf", testChunks(5)))
	require.Equal(t, 3, embedder.calls)
}

func TestAddChunksHonorsConfiguredBackoff(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	embedder := &fakeEmbedder{fail: 2}
	w := NewWriter(embedder, WriterConfig{BatchSize: 10, Retries: 3, BatchInterval: time.Millisecond, Backoff: 50 * time.Millisecond}, quietLogger())

	start := time.Now()
	require.NoError(t, w.AddChunks(ctx, coll, "guide.pdf", testChunks(5)))
	// attempt 1 waits 50ms, attempt 2 waits 100ms
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	require.Equal(t, 3, embedder.calls)
}

func TestAddChunksExhaustsRetries(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	embedder := &fakeEmbedder{fail: 10}
	w := NewWriter(embedder, WriterConfig{BatchSize: 10, Retries: 2, BatchInterval: time.Millisecond, Backoff: time.Millisecond}, quietLogger())

	err = w.AddChunks(ctx, coll, "guide.pdf", testChunks(5))
	require.Error(t, err)
	require.Equal(t, 2, embedder.calls)
}

func TestAddChunksQuotaAbortsImmediately(t *testing.T) {
	t.Parallel()
	client, _ := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	embedder := &fakeEmbedder{fail: 10, err: errors.New("openai api status 429: insufficient_quota")}
	w := NewWriter(embedder, WriterConfig{BatchSize: 10, Retries: 3, BatchInterval: time.Millisecond}, quietLogger())

	err = w.AddChunks(ctx, coll, "guide.pdf", testChunks(5))
	require.ErrorIs(t, err, ErrQuotaExceeded)
	require.Equal(t, 1, embedder.calls)
}

func TestRemoveSource(t *testing.T) {
	t.Parallel()
	client, fake := newTestClient(t)
	ctx := context.Background()
	coll, err := client.CreateCollection(ctx, "docs")
	require.NoError(t, err)

	w := NewWriter(&fakeEmbedder{}, WriterConfig{BatchInterval: time.Millisecond}, quietLogger())
	require.NoError(t, w.AddChunks(ctx, coll, "a.pdf", testChunks(3)))
	require.NoError(t, w.AddChunks(ctx, coll, "b.pdf", testChunks(2)))

	require.NoError(t, w.RemoveSource(ctx, coll, "a.pdf"))
	require.Len(t, fake.collections[coll.ID].ids, 2)

	// removing again is a no-op
	require.NoError(t, w.RemoveSource(ctx, coll, "a.pdf"))
	require.Len(t, fake.collections[coll.ID].ids, 2)
}

func TestIsQuotaError(t *testing.T) {
	t.Parallel()
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("connection refused"), false},
		{errors.New("You exceeded your current quota"), true},
		{errors.New("openai api status 429: too many requests"), true},
		{errors.New("Rate limit reached for requests"), true},
		{fmt.Errorf("wrapped: %w", ErrQuotaExceeded), true},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, IsQuotaError(tc.err), "err=%v", tc.err)
	}
}

func TestFlattenMetadataScalarsOnly(t *testing.T) {
	t.Parallel()
	ch := chunk.Chunk{
		Text:       "body",
		SourceID:   "x.pdf",
		SourceType: chunk.SourcePDF,
		Title:      "x.pdf",
		Page:       3,
		TotalPages: 7,
		Section:    "Intro",
		Index:      1,
		Total:      4,
	}
	meta := flattenMetadata("x.pdf", ch)
	require.Equal(t, "x.pdf", meta["source"])
	require.Equal(t, "pdf", meta["source_type"])
	require.Equal(t, 3, meta["page"])
	require.Equal(t, 7, meta["total_pages"])
	require.Equal(t, "Intro", meta["section"])
	for k, v := range meta {
		switch v.(type) {
		case string, int, float64, bool:
		default:
			t.Fatalf("metadata key %s has non-scalar value %T", k, v)
		}
	}
}

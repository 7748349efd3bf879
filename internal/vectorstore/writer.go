package vectorstore

import (
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitalita/healthassist/internal/chunk"
)

// ErrQuotaExceeded indicates the embedding provider refused the request for
// quota or rate-limit reasons. Callers surface it with remediation guidance
// instead of retrying forever.
var ErrQuotaExceeded = errors.New("embedding quota exceeded")

// Embedder turns chunk texts into vectors.
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// WriterConfig tunes batching and retry behavior.
type WriterConfig struct {
	BatchSize int
	Retries   int
	// BatchInterval paces embedding calls to stay under provider limits.
	BatchInterval time.Duration
	// Backoff is the base retry delay; attempt n waits n*Backoff.
	Backoff time.Duration
}

// Writer pushes chunks into a collection in deterministic batches.
type Writer struct {
	embedder Embedder
	cfg      WriterConfig
	limiter  *rate.Limiter
	logger   *log.Logger
}

// NewWriter builds a Writer. Zero config fields fall back to defaults.
func NewWriter(embedder Embedder, cfg WriterConfig, logger *log.Logger) *Writer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 3
	}
	if cfg.BatchInterval <= 0 {
		cfg.BatchInterval = 200 * time.Millisecond
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Writer{
		embedder: embedder,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Every(cfg.BatchInterval), 1),
		logger:   logger,
	}
}

// ChunkID derives a stable id for a chunk: sha1 of the source id plus the
// zero-padded chunk index. Re-ingesting the same source yields the same ids.
func ChunkID(sourceID string, index int) string {
	sum := sha1.Sum([]byte(sourceID))
	return fmt.Sprintf("%x#%03d", sum, index)
}

// AddChunks embeds and stores chunks in order. Batches are retried with a
// linear backoff; a quota failure aborts immediately with ErrQuotaExceeded.
func (w *Writer) AddChunks(ctx context.Context, coll *Collection, sourceID string, chunks []chunk.Chunk) error {
	for start := 0; start < len(chunks); start += w.cfg.BatchSize {
		end := start + w.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := w.addBatch(ctx, coll, sourceID, start, batch); err != nil {
			return fmt.Errorf("indexing %s chunks %d-%d: %w", sourceID, start, end-1, err)
		}
	}
	return nil
}

func (w *Writer) addBatch(ctx context.Context, coll *Collection, sourceID string, offset int, batch []chunk.Chunk) error {
	texts := make([]string, len(batch))
	ids := make([]string, len(batch))
	metas := make([]map[string]interface{}, len(batch))
	for i, ch := range batch {
		texts[i] = ch.Text
		ids[i] = ChunkID(sourceID, offset+i)
		metas[i] = flattenMetadata(sourceID, ch)
	}

	var lastErr error
	for attempt := 0; attempt < w.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(attempt) * w.cfg.Backoff
			w.logger.Printf("retrying batch for %s in %s after: %v", sourceID, delay, lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		embeddings, err := w.embedder.CreateEmbedding(ctx, texts)
		if err != nil {
			if IsQuotaError(err) {
				return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
			}
			lastErr = err
			continue
		}
		if len(embeddings) != len(texts) {
			lastErr = fmt.Errorf("embedder returned %d vectors for %d texts", len(embeddings), len(texts))
			continue
		}
		if err := coll.Add(ctx, ids, texts, embeddings, metas); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// RemoveSource deletes every chunk stored for the source id. Removing a
// source that has no chunks is a no-op.
func (w *Writer) RemoveSource(ctx context.Context, coll *Collection, sourceID string) error {
	ids, err := coll.GetIDs(ctx, map[string]interface{}{"source": sourceID})
	if err != nil {
		return fmt.Errorf("listing chunks for %s: %w", sourceID, err)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := coll.Delete(ctx, ids); err != nil {
		return fmt.Errorf("deleting chunks for %s: %w", sourceID, err)
	}
	return nil
}

// IsQuotaError reports whether the error looks like a provider quota or
// rate-limit rejection.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "quota") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "status 429") ||
		strings.Contains(msg, "insufficient_quota")
}

// flattenMetadata keeps only scalar values so the store accepts the payload.
func flattenMetadata(sourceID string, ch chunk.Chunk) map[string]interface{} {
	meta := map[string]interface{}{
		"source":       sourceID,
		"source_type":  string(ch.SourceType),
		"chunk_index":  ch.Index,
		"total_chunks": ch.Total,
	}
	if ch.Title != "" {
		meta["title"] = ch.Title
	}
	if ch.Page > 0 {
		meta["page"] = ch.Page
	}
	if ch.TotalPages > 0 {
		meta["total_pages"] = ch.TotalPages
	}
	if ch.Section != "" {
		meta["section"] = ch.Section
	}
	return meta
}

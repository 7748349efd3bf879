package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalita/healthassist/internal/chunk"
	"github.com/vitalita/healthassist/internal/docs"
	"github.com/vitalita/healthassist/internal/jobs"
	"github.com/vitalita/healthassist/internal/registry"
	"github.com/vitalita/healthassist/internal/vectorstore"
)

// fakeStore mimics just enough of the collection API for rebuild tests.
type fakeStore struct {
	mu     sync.Mutex
	nextID int
	names  map[string]string // name -> id
	counts map[string]int    // id -> stored entries
}

func newFakeStore() *fakeStore {
	return &fakeStore{names: map[string]string{}, counts: map[string]int{}}
}

func (f *fakeStore) collectionNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for name := range f.names {
		out = append(out, name)
	}
	return out
}

func (f *fakeStore) handler() http.Handler {
	const prefix = "/api/v2/tenants/default_tenant/databases/default_database/collections"
	mux := http.NewServeMux()
	mux.HandleFunc(prefix, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Name string `json:"name"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.nextID++
		id := fmt.Sprintf("c%d", f.nextID)
		f.names[body.Name] = id
		f.counts[id] = 0
		_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": body.Name})
	})
	mux.HandleFunc(prefix+"/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, prefix+"/")
		parts := strings.SplitN(rest, "/", 2)
		key := parts[0]
		f.mu.Lock()
		defer f.mu.Unlock()

		if len(parts) == 1 {
			switch r.Method {
			case http.MethodGet:
				id, ok := f.names[key]
				if !ok {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				_ = json.NewEncoder(w).Encode(map[string]string{"id": id, "name": key})
			case http.MethodDelete:
				id, ok := f.names[key]
				if !ok {
					http.Error(w, "not found", http.StatusNotFound)
					return
				}
				delete(f.names, key)
				delete(f.counts, id)
				w.WriteHeader(http.StatusOK)
			case http.MethodPut:
				var body struct {
					NewName string `json:"new_name"`
				}
				_ = json.NewDecoder(r.Body).Decode(&body)
				for name, id := range f.names {
					if id == key {
						delete(f.names, name)
						f.names[body.NewName] = id
						w.WriteHeader(http.StatusOK)
						return
					}
				}
				http.Error(w, "not found", http.StatusNotFound)
			}
			return
		}

		switch parts[1] {
		case "add":
			var body struct {
				IDs []string `json:"ids"`
			}
			_ = json.NewDecoder(r.Body).Decode(&body)
			f.counts[key] += len(body.IDs)
			w.WriteHeader(http.StatusCreated)
		case "get":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"ids": []string{}})
		case "delete":
			w.WriteHeader(http.StatusOK)
		case "count":
			_ = json.NewEncoder(w).Encode(f.counts[key])
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	})
	return mux
}

type stubEmbedder struct {
	err      error
	errAfter int32 // succeed this many calls before returning err
	calls    atomic.Int32
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	n := s.calls.Add(1)
	if s.err != nil && n > s.errAfter {
		return nil, s.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0.5}
	}
	return out, nil
}

type fixture struct {
	orch    *Orchestrator
	tracker *jobs.Tracker
	handles *Handles
	urls    *registry.Store
	store   *fakeStore
}

func newFixture(t *testing.T, embedder vectorstore.Embedder) *fixture {
	t.Helper()
	fake := newFakeStore()
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	client := vectorstore.NewClient(vectorstore.Config{Host: u.Hostname(), Port: u.Port()})

	logger := log.New(io.Discard, "", 0)
	writer := vectorstore.NewWriter(embedder, vectorstore.WriterConfig{
		BatchSize: 10, Retries: 1, BatchInterval: time.Millisecond,
	}, logger)
	tracker := jobs.NewTracker(time.Hour)
	library, err := docs.NewLibrary(t.TempDir())
	require.NoError(t, err)
	urls, err := registry.Open(filepath.Join(t.TempDir(), "urls.json"))
	require.NoError(t, err)

	orch := NewOrchestrator(client, writer, tracker, library, urls,
		chunk.MustSplitter(200, 20), "health_documents", logger)

	return &fixture{orch: orch, tracker: tracker, handles: orch.Handles(), urls: urls, store: fake}
}

func addFetchedURL(t *testing.T, urls *registry.Store, rawURL string) registry.URLDocument {
	t.Helper()
	doc, err := urls.Add(rawURL)
	require.NoError(t, err)
	chunks := []chunk.Chunk{{
		Text:       "cached page content",
		SourceID:   rawURL,
		SourceType: chunk.SourceHTMLURL,
		Title:      "Cached",
		Index:      0,
		Total:      1,
	}}
	require.NoError(t, urls.MarkFetched(doc.ID, "Cached", "html", chunks))
	got, err := urls.Get(doc.ID)
	require.NoError(t, err)
	return got
}

func waitForJob(t *testing.T, tracker *jobs.Tracker, id string) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := tracker.Get(id)
		require.NoError(t, err)
		if job.Status != jobs.StatusProcessing {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return jobs.Job{}
}

func TestHandlesSingleFlight(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	release := make(chan struct{})
	h := NewHandles(func(ctx context.Context) (*vectorstore.Collection, error) {
		inits.Add(1)
		<-release
		return &vectorstore.Collection{ID: "c1", Name: "live"}, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			coll, err := h.Get(context.Background())
			require.NoError(t, err)
			require.NotNil(t, coll)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.Equal(t, int32(1), inits.Load())

	// cached afterwards, no more init calls
	coll, err := h.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, "c1", coll.ID)
	require.Equal(t, int32(1), inits.Load())
}

func TestHandlesDoesNotCacheMissingIndex(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	h := NewHandles(func(ctx context.Context) (*vectorstore.Collection, error) {
		inits.Add(1)
		return nil, nil
	})

	coll, err := h.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, coll)

	coll, err = h.Get(context.Background())
	require.NoError(t, err)
	require.Nil(t, coll)
	require.Equal(t, int32(2), inits.Load())
}

func TestHandlesDoesNotCacheFailure(t *testing.T) {
	t.Parallel()
	var inits atomic.Int32
	fail := true
	h := NewHandles(func(ctx context.Context) (*vectorstore.Collection, error) {
		inits.Add(1)
		if fail {
			return nil, errors.New("store unreachable")
		}
		return &vectorstore.Collection{ID: "c1", Name: "live"}, nil
	})

	_, err := h.Get(context.Background())
	require.Error(t, err)

	fail = false
	coll, err := h.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, coll)
	require.Equal(t, int32(2), inits.Load())
}

func TestRebuildSwapsCollection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	addFetchedURL(t, fx.urls, "https://example.org/one")
	addFetchedURL(t, fx.urls, "https://example.org/two")

	done := make(chan string, 1)
	fx.orch.OnRebuildDone(func(outcome string) { done <- outcome })

	jobID, err := fx.orch.StartRebuild()
	require.NoError(t, err)

	job := waitForJob(t, fx.tracker, jobID)
	require.Equal(t, jobs.StatusCompleted, job.Status)
	require.Equal(t, 100, job.Progress.Percentage)
	require.Equal(t, 2, job.Progress.TotalURLs)
	require.Equal(t, 2, job.Progress.ProcessedURLs)

	// only the live name remains, no leftover build collection
	require.Equal(t, []string{"health_documents"}, fx.store.collectionNames())

	coll, err := fx.handles.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, coll)
	require.Equal(t, "health_documents", coll.Name)

	for _, doc := range fx.urls.List() {
		require.Equal(t, registry.StatusIndexed, doc.Status)
	}

	select {
	case outcome := <-done:
		require.Equal(t, "completed", outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("no completion callback")
	}
}

func TestRebuildFailureKeepsOldIndex(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	addFetchedURL(t, fx.urls, "https://example.org/seed")
	jobID, err := fx.orch.StartRebuild()
	require.NoError(t, err)
	waitForJob(t, fx.tracker, jobID)

	old, err := fx.handles.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, old)

	// second rebuild fails during embedding
	broken := &stubEmbedder{err: errors.New("openai api status 429: insufficient_quota")}
	fx.orch.writer = vectorstore.NewWriter(broken, vectorstore.WriterConfig{
		BatchSize: 10, Retries: 1, BatchInterval: time.Millisecond,
	}, log.New(io.Discard, "", 0))

	jobID, err = fx.orch.StartRebuild()
	require.NoError(t, err)
	job := waitForJob(t, fx.tracker, jobID)
	require.Equal(t, jobs.StatusError, job.Status)
	require.Contains(t, job.Error, "quota")

	// old collection still live, build collection cleaned up
	require.Equal(t, []string{"health_documents"}, fx.store.collectionNames())
	coll, err := fx.handles.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, old.ID, coll.ID)
}

func TestRebuildFailureLeavesDocsFetched(t *testing.T) {
	t.Parallel()
	embedder := &stubEmbedder{err: errors.New("openai api status 429: insufficient_quota"), errAfter: 1}
	fx := newFixture(t, embedder)
	addFetchedURL(t, fx.urls, "https://example.org/one")
	addFetchedURL(t, fx.urls, "https://example.org/two")

	jobID, err := fx.orch.StartRebuild()
	require.NoError(t, err)
	job := waitForJob(t, fx.tracker, jobID)
	require.Equal(t, jobs.StatusError, job.Status)

	// the first url was written into the build collection before the failure
	// but must not read indexed while the old index is still live
	for _, doc := range fx.urls.List() {
		require.Equal(t, registry.StatusFetched, doc.Status)
	}
}

func TestStartRebuildRejectsConcurrent(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	fx.orch.rebuilding.Store(true)
	_, err := fx.orch.StartRebuild()
	require.ErrorIs(t, err, ErrRebuildInProgress)
}

func TestAddURLDocumentCreatesLiveCollection(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	doc := addFetchedURL(t, fx.urls, "https://example.org/page")

	require.NoError(t, fx.orch.AddURLDocument(context.Background(), doc))
	require.Equal(t, []string{"health_documents"}, fx.store.collectionNames())

	got, err := fx.urls.Get(doc.ID)
	require.NoError(t, err)
	require.Equal(t, registry.StatusIndexed, got.Status)
}

func TestAddURLDocumentWithoutChunks(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	doc, err := fx.urls.Add("https://example.org/empty")
	require.NoError(t, err)
	require.Error(t, fx.orch.AddURLDocument(context.Background(), doc))
}

func TestRemoveDocumentWithoutIndexIsNoop(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, &stubEmbedder{})
	require.NoError(t, fx.orch.RemovePDFDocument(context.Background(), "ghost.pdf"))
	doc, err := fx.urls.Add("https://example.org/gone")
	require.NoError(t, err)
	require.NoError(t, fx.orch.RemoveURLDocument(context.Background(), doc))
	require.Empty(t, fx.store.collectionNames())
}

func TestProgressBands(t *testing.T) {
	t.Parallel()
	require.Equal(t, 20, progressAt(20, 60, 0, 4))
	require.Equal(t, 50, progressAt(20, 60, 3, 4))
	require.Equal(t, 60, progressAt(60, 90, 0, 0))
}

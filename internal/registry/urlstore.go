// Package registry persists the set of tracked URL documents alongside
// their fetched content so rebuilds can reuse cached chunks.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalita/healthassist/internal/chunk"
)

// ErrNotFound is returned when a document id is unknown.
var ErrNotFound = errors.New("url document not found")

// ErrDuplicateURL is returned when adding a URL that is already tracked.
var ErrDuplicateURL = errors.New("url already tracked")

// Status is a URL document's ingestion state.
type Status string

const (
	StatusPending Status = "pending"
	StatusFetched Status = "fetched"
	StatusIndexed Status = "indexed"
	StatusError   Status = "error"
)

// URLDocument is one tracked URL and everything fetched from it.
type URLDocument struct {
	ID            string        `json:"id"`
	URL           string        `json:"url"`
	Title         string        `json:"title,omitempty"`
	Status        Status        `json:"status"`
	ContentType   string        `json:"content_type,omitempty"`
	DateAdded     time.Time     `json:"date_added"`
	LastFetched   time.Time     `json:"last_fetched,omitempty"`
	LastIndexed   time.Time     `json:"last_indexed,omitempty"`
	Error         string        `json:"error,omitempty"`
	FetchedChunks []chunk.Chunk `json:"fetched_chunks,omitempty"`
}

// Store is a JSON-file backed registry. All writes go through one mutex and
// land atomically via a temp file rename.
type Store struct {
	mu   sync.Mutex
	path string
	docs map[string]*URLDocument // keyed by id
}

// Open loads the registry file, creating parent directories as needed. A
// missing file starts an empty registry.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating registry dir: %w", err)
	}
	s := &Store{path: path, docs: map[string]*URLDocument{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading registry: %w", err)
	}
	var docs []*URLDocument
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parsing registry %s: %w", path, err)
	}
	for _, d := range docs {
		s.docs[d.ID] = d
	}
	return s, nil
}

// Add registers a new pending URL. Adding an already tracked URL returns the
// existing document with ErrDuplicateURL.
func (s *Store) Add(rawURL string) (URLDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.docs {
		if d.URL == rawURL {
			return *d, ErrDuplicateURL
		}
	}
	doc := &URLDocument{
		ID:        uuid.NewString(),
		URL:       rawURL,
		Status:    StatusPending,
		DateAdded: time.Now().UTC(),
	}
	s.docs[doc.ID] = doc
	if err := s.save(); err != nil {
		delete(s.docs, doc.ID)
		return URLDocument{}, err
	}
	return *doc, nil
}

// MarkFetched records a successful fetch with the extracted chunks.
func (s *Store) MarkFetched(id, title, contentType string, chunks []chunk.Chunk) error {
	return s.mutate(id, func(d *URLDocument) {
		d.Status = StatusFetched
		d.Title = title
		d.ContentType = contentType
		d.LastFetched = time.Now().UTC()
		d.Error = ""
		d.FetchedChunks = chunks
	})
}

// MarkIndexed records that the document's chunks reached the vector store.
func (s *Store) MarkIndexed(id string) error {
	return s.mutate(id, func(d *URLDocument) {
		d.Status = StatusIndexed
		d.LastIndexed = time.Now().UTC()
		d.Error = ""
	})
}

// MarkError records a failure and drops any cached chunks.
func (s *Store) MarkError(id, msg string) error {
	return s.mutate(id, func(d *URLDocument) {
		d.Status = StatusError
		d.Error = msg
		d.FetchedChunks = nil
	})
}

// MarkPending resets a document for a refresh, clearing fetched state.
func (s *Store) MarkPending(id string) error {
	return s.mutate(id, func(d *URLDocument) {
		d.Status = StatusPending
		d.Error = ""
		d.Title = ""
		d.ContentType = ""
		d.FetchedChunks = nil
	})
}

// Remove deletes a document.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.docs, id)
	if err := s.save(); err != nil {
		s.docs[id] = doc
		return err
	}
	return nil
}

// Get returns a copy of one document. The copy shares the chunk slice, which
// callers treat as read-only.
func (s *Store) Get(id string) (URLDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return URLDocument{}, ErrNotFound
	}
	return *doc, nil
}

// List returns all documents ordered by date added.
func (s *Store) List() []URLDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]URLDocument, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateAdded.Equal(out[j].DateAdded) {
			return out[i].ID < out[j].ID
		}
		return out[i].DateAdded.Before(out[j].DateAdded)
	})
	return out
}

// FetchedDocs returns documents whose cached chunks are usable for a
// rebuild, meaning anything fetched or already indexed.
func (s *Store) FetchedDocs() []URLDocument {
	var out []URLDocument
	for _, d := range s.List() {
		if (d.Status == StatusFetched || d.Status == StatusIndexed) && len(d.FetchedChunks) > 0 {
			out = append(out, d)
		}
	}
	return out
}

func (s *Store) mutate(id string, fn func(*URLDocument)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	before := *doc
	fn(doc)
	if err := s.save(); err != nil {
		*doc = before
		return err
	}
	return nil
}

// save writes the registry atomically. Callers hold the mutex.
func (s *Store) save() error {
	docs := make([]*URLDocument, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool {
		if docs[i].DateAdded.Equal(docs[j].DateAdded) {
			return docs[i].ID < docs[j].ID
		}
		return docs[i].DateAdded.Before(docs[j].DateAdded)
	})
	data, err := json.MarshalIndent(docs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding registry: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".registry-*.json")
	if err != nil {
		return fmt.Errorf("creating temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replacing registry: %w", err)
	}
	return nil
}

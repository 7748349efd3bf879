// Package chunk splits extracted document text into overlapping windows
// that prefer semantic boundaries, carrying provenance metadata on every
// produced chunk.
package chunk

import (
	"errors"
	"strings"
)

// SourceType identifies the kind of document a chunk came from.
type SourceType string

const (
	SourcePDF     SourceType = "pdf"
	SourceHTMLURL SourceType = "html_url"
	SourcePDFURL  SourceType = "pdf_url"
)

// Chunk is the atomic unit stored in the vector index: a bounded window of
// source text plus everything needed to cite it later.
type Chunk struct {
	Text       string     `json:"text"`
	SourceID   string     `json:"source_id"` // filename or URL
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title,omitempty"`
	Page       int        `json:"page,omitempty"` // 1-based, 0 when not paginated
	TotalPages int        `json:"total_pages,omitempty"`
	Section    string     `json:"section,omitempty"`
	Index      int        `json:"chunk_index"`
	Total      int        `json:"total_chunks"`
}

// Metadata is the caller-supplied provenance attached to every chunk of one
// split operation.
type Metadata struct {
	SourceID   string
	SourceType SourceType
	Title      string
	Page       int
	TotalPages int
	Section    string
}

const (
	DefaultChunkSize = 1500
	DefaultOverlap   = 200
)

// defaultSeparators is ordered from most to least semantic; the empty string
// is the hard character fallback.
var defaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter produces deterministic overlapping chunks. Overlap is strictly
// less than ChunkSize.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// NewSplitter validates the configuration and returns a Splitter.
func NewSplitter(chunkSize, overlap int) (*Splitter, error) {
	if chunkSize <= 0 {
		return nil, errors.New("chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, errors.New("overlap must be in [0, chunk size)")
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, separators: defaultSeparators}, nil
}

// MustSplitter is NewSplitter for configurations known good at compile time.
func MustSplitter(chunkSize, overlap int) *Splitter {
	s, err := NewSplitter(chunkSize, overlap)
	if err != nil {
		panic(err)
	}
	return s
}

// Split cuts text into windows, preferring paragraph, sentence and word
// boundaries over mid-word cuts. Each window after the first is seeded with
// the tail of its predecessor, so a chunk may exceed chunkSize by up to
// overlap characters. Identical input and configuration always yield an
// identical sequence.
func (s *Splitter) Split(text string) []string {
	text = normalize(text)
	if text == "" {
		return nil
	}
	frags := s.fragments(text, s.separators)

	var chunks []string
	cur := ""
	seedLen := 0
	for _, frag := range frags {
		if len(cur) > seedLen && len(cur)+len(frag) > s.chunkSize {
			chunks = append(chunks, strings.TrimSpace(cur))
			seed := cur
			if len(seed) > s.overlap {
				seed = seed[len(seed)-s.overlap:]
			}
			cur = seed
			seedLen = len(seed)
		}
		cur += frag
	}
	if len(cur) > seedLen && strings.TrimSpace(cur) != "" {
		chunks = append(chunks, strings.TrimSpace(cur))
	}
	return chunks
}

// fragments recursively splits text into pieces no longer than chunkSize,
// trying each separator in priority order and falling back to a hard cut.
func (s *Splitter) fragments(text string, seps []string) []string {
	if text == "" {
		return nil
	}
	if len(text) <= s.chunkSize {
		return []string{text}
	}
	for i, sep := range seps {
		if sep == "" {
			break
		}
		if !strings.Contains(text, sep) {
			continue
		}
		parts := strings.Split(text, sep)
		var out []string
		for j, part := range parts {
			if j < len(parts)-1 {
				part += sep
			}
			if part == "" {
				continue
			}
			out = append(out, s.fragments(part, seps[i+1:])...)
		}
		return out
	}
	// Character fallback: no separator fits, cut at chunkSize.
	var out []string
	for start := 0; start < len(text); start += s.chunkSize {
		end := start + s.chunkSize
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
	}
	return out
}

// ChunkDocument splits text and attaches metadata, the 0-based index and the
// total chunk count to every chunk.
func (s *Splitter) ChunkDocument(text string, meta Metadata) []Chunk {
	parts := s.Split(text)
	if len(parts) == 0 {
		return nil
	}
	chunks := make([]Chunk, len(parts))
	for i, part := range parts {
		chunks[i] = Chunk{
			Text:       part,
			SourceID:   meta.SourceID,
			SourceType: meta.SourceType,
			Title:      meta.Title,
			Page:       meta.Page,
			TotalPages: meta.TotalPages,
			Section:    meta.Section,
			Index:      i,
			Total:      len(parts),
		}
	}
	return chunks
}

// Renumber rewrites Index/Total across chunks from several split calls (for
// example one call per PDF page) so they form a single stable sequence for
// the source.
func Renumber(chunks []Chunk) []Chunk {
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.TrimSpace(text)
}

package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewSplitterValidation(t *testing.T) {
	t.Parallel()
	if _, err := NewSplitter(0, 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
	if _, err := NewSplitter(100, 100); err == nil {
		t.Fatalf("expected error for overlap == chunk size")
	}
	if _, err := NewSplitter(100, 150); err == nil {
		t.Fatalf("expected error for overlap > chunk size")
	}
	if _, err := NewSplitter(100, 20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	t.Parallel()
	s := MustSplitter(1500, 200)
	got := s.Split("a short paragraph")
	require.Equal(t, []string{"a short paragraph"}, got)
}

func TestSplitPrefersParagraphBoundaries(t *testing.T) {
	t.Parallel()
	s := MustSplitter(100, 0)
	para1 := strings.Repeat("alpha ", 12) // 72 chars
	para2 := strings.Repeat("beta ", 12)  // 60 chars
	got := s.Split(para1 + "\n\n" + para2)
	require.Len(t, got, 2)
	require.True(t, strings.HasPrefix(got[0], "alpha"))
	require.True(t, strings.HasPrefix(got[1], "beta"))
	// No paragraph was cut mid-word.
	for _, c := range got {
		require.NotContains(t, c, "alph\n")
	}
}

func TestSplitCharacterFallback(t *testing.T) {
	t.Parallel()
	s := MustSplitter(50, 0)
	text := strings.Repeat("x", 120) // no separators at all
	got := s.Split(text)
	require.Equal(t, []string{
		strings.Repeat("x", 50),
		strings.Repeat("x", 50),
		strings.Repeat("x", 20),
	}, got)
}

func TestSplitDeterministic(t *testing.T) {
	t.Parallel()
	s := MustSplitter(200, 40)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	first := s.Split(text)
	second := s.Split(text)
	require.Equal(t, first, second)
	require.Greater(t, len(first), 1)
	// chunk size plus overlap is the documented upper bound per chunk
	for _, c := range first {
		require.LessOrEqual(t, len(c), 200+40)
	}
}

func TestSplitOverlapCarriesTail(t *testing.T) {
	t.Parallel()
	s := MustSplitter(100, 30)
	text := strings.Repeat("word ", 60)
	got := s.Split(text)
	require.Greater(t, len(got), 1)
	// Each successor chunk starts with text already seen at the end of its
	// predecessor.
	for i := 1; i < len(got); i++ {
		head := got[i]
		if len(head) > 20 {
			head = head[:20]
		}
		require.Contains(t, got[i-1]+" "+got[i], strings.TrimSpace(head))
	}
}

func TestChunkDocumentMetadata(t *testing.T) {
	t.Parallel()
	s := MustSplitter(50, 10)
	text := strings.Repeat("sentence one. ", 10)
	chunks := s.ChunkDocument(text, Metadata{
		SourceID:   "guide.pdf",
		SourceType: SourcePDF,
		Title:      "Guide",
		Page:       3,
		TotalPages: 7,
	})
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		require.Equal(t, "guide.pdf", c.SourceID)
		require.Equal(t, SourcePDF, c.SourceType)
		require.Equal(t, 3, c.Page)
		require.Equal(t, 7, c.TotalPages)
		require.Equal(t, i, c.Index)
		require.Equal(t, len(chunks), c.Total)
	}
}

func TestPerPageChunkingBoundaryMath(t *testing.T) {
	t.Parallel()
	// Two pages of ~1500 chars with chunk size 1500 yield exactly one chunk
	// per page, two chunks for the document.
	s := MustSplitter(1500, 200)
	page := strings.TrimSpace(strings.Repeat("lorem ipsum dolor sit amet. ", 54)[:1490])
	var all []Chunk
	for p := 1; p <= 2; p++ {
		all = append(all, s.ChunkDocument(page, Metadata{
			SourceID:   "a.pdf",
			SourceType: SourcePDF,
			Page:       p,
			TotalPages: 2,
		})...)
	}
	all = Renumber(all)
	require.Len(t, all, 2)
	require.Equal(t, 0, all[0].Index)
	require.Equal(t, 1, all[1].Index)
	require.Equal(t, 2, all[0].Total)
	require.Equal(t, 1, all[0].Page)
	require.Equal(t, 2, all[1].Page)
}

func TestRenumber(t *testing.T) {
	t.Parallel()
	chunks := []Chunk{{Text: "a", Index: 0, Total: 1}, {Text: "b", Index: 0, Total: 1}, {Text: "c", Index: 0, Total: 1}}
	out := Renumber(chunks)
	for i, c := range out {
		require.Equal(t, i, c.Index)
		require.Equal(t, 3, c.Total)
	}
}

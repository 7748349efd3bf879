package docs

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrNoExtractableText is returned when a PDF yields no usable text on any
// page (scanned images, encrypted content).
var ErrNoExtractableText = errors.New("no extractable text in pdf")

// Page holds the text of one PDF page.
type Page struct {
	Number int
	Text   string
}

// ExtractPages reads per-page plain text from the PDF at path. Pages without
// extractable text are skipped; if no page yields text it falls back to the
// whole-document reader before giving up.
func ExtractPages(path string) ([]Page, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []Page
	total := r.NumPage()
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			continue
		}
		text = SanitizeText(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	if len(pages) > 0 {
		return pages, nil
	}

	// Per-page extraction found nothing; try the document-level reader.
	reader, err := r.GetPlainText()
	if err != nil {
		return nil, ErrNoExtractableText
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return nil, fmt.Errorf("read extracted text: %w", err)
	}
	text := SanitizeText(buf.String())
	if text == "" {
		return nil, ErrNoExtractableText
	}
	return []Page{{Number: 1, Text: text}}, nil
}

// SanitizeText drops control characters and invalid UTF-8 sequences that PDF
// extraction tends to leave behind, and collapses runs of blank lines.
func SanitizeText(text string) string {
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "")
	}
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	out := b.String()
	for strings.Contains(out, "\n\n\n") {
		out = strings.ReplaceAll(out, "\n\n\n", "\n\n")
	}
	return strings.TrimSpace(out)
}

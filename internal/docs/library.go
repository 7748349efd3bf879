// Package docs manages the on-disk library of uploaded PDF documents and
// extracts their per-page text.
package docs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a filename does not exist in the library.
var ErrNotFound = errors.New("document not found")

// FileInfo describes one stored PDF.
type FileInfo struct {
	Filename   string `json:"filename"`
	Size       int64  `json:"size"`
	UploadDate string `json:"upload_date"`
}

// Library is the uploaded-PDF store. Files are immutable once written;
// re-uploading a filename replaces the file wholesale.
type Library struct {
	dir string
}

// NewLibrary ensures dir exists and returns a Library rooted there.
func NewLibrary(dir string) (*Library, error) {
	if dir == "" {
		return nil, errors.New("docs folder not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating docs folder: %w", err)
	}
	return &Library{dir: dir}, nil
}

// List returns the stored PDFs sorted by filename.
func (l *Library) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("reading docs folder: %w", err)
	}
	var out []FileInfo
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{
			Filename:   e.Name(),
			Size:       info.Size(),
			UploadDate: info.ModTime().UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out, nil
}

// Filenames returns just the stored PDF filenames, sorted.
func (l *Library) Filenames() ([]string, error) {
	infos, err := l.List()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(infos))
	for i, fi := range infos {
		names[i] = fi.Filename
	}
	return names, nil
}

// Save stores the uploaded content under the sanitized base of filename.
// Only .pdf files are accepted.
func (l *Library) Save(filename string, r io.Reader) (string, error) {
	name, err := l.safeName(filename)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		return "", errors.New("only PDF files are allowed")
	}
	f, err := os.Create(filepath.Join(l.dir, name))
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("writing %s: %w", name, err)
	}
	return name, nil
}

// Delete removes a stored PDF.
func (l *Library) Delete(filename string) error {
	path, err := l.Path(filename)
	if err != nil {
		return err
	}
	return os.Remove(path)
}

// Path resolves filename inside the library, guarding against traversal,
// and verifies the file exists.
func (l *Library) Path(filename string) (string, error) {
	name, err := l.safeName(filename)
	if err != nil {
		return "", err
	}
	path := filepath.Join(l.dir, name)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	return path, nil
}

func (l *Library) safeName(filename string) (string, error) {
	name := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "" || name == "." || name == ".." {
		return "", errors.New("invalid filename")
	}
	return name, nil
}

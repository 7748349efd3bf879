package docs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLibrarySaveListDelete(t *testing.T) {
	t.Parallel()
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)

	name, err := lib.Save("report.pdf", strings.NewReader("%PDF-1.4 fake"))
	require.NoError(t, err)
	require.Equal(t, "report.pdf", name)

	infos, err := lib.List()
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, "report.pdf", infos[0].Filename)
	require.Equal(t, int64(13), infos[0].Size)

	require.NoError(t, lib.Delete("report.pdf"))
	infos, err = lib.List()
	require.NoError(t, err)
	require.Empty(t, infos)
}

func TestLibraryRejectsNonPDF(t *testing.T) {
	t.Parallel()
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)
	_, err = lib.Save("notes.txt", strings.NewReader("hello"))
	require.Error(t, err)
}

func TestLibraryStripsPathComponents(t *testing.T) {
	t.Parallel()
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)
	name, err := lib.Save("../../etc/passwd.pdf", strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, "passwd.pdf", name)

	name, err = lib.Save(`C:\docs\report.pdf`, strings.NewReader("x"))
	require.NoError(t, err)
	require.Equal(t, "report.pdf", name)
}

func TestLibraryPathNotFound(t *testing.T) {
	t.Parallel()
	lib, err := NewLibrary(t.TempDir())
	require.NoError(t, err)
	_, err = lib.Path("missing.pdf")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestExtractPagesMissingFile(t *testing.T) {
	t.Parallel()
	_, err := ExtractPages("/nonexistent/file.pdf")
	require.Error(t, err)
}

func TestSanitizeText(t *testing.T) {
	t.Parallel()
	in := "line one\x00\x01\n\n\n\nline two\t tab"
	out := SanitizeText(in)
	require.Equal(t, "line one\n\nline two\t tab", out)
}

package retrieval

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenPromptStoreMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()
	s, err := OpenPromptStore(filepath.Join(t.TempDir(), "prompts.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultPrompts(), s.Get())
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	s, err := OpenPromptStore(path)
	require.NoError(t, err)

	custom := Prompts{
		SystemPrompt:       "You are a terse assistant.",
		UserGreeting:       "Hi.",
		ContextInstruction: "Context follows:",
		FallbackResponse:   "Nothing indexed.",
	}
	require.NoError(t, s.Update(custom))
	require.Equal(t, custom, s.Get())

	reopened, err := OpenPromptStore(path)
	require.NoError(t, err)
	require.Equal(t, custom, reopened.Get())
}

func TestUpdateEmptyFieldsKeepDefaults(t *testing.T) {
	t.Parallel()
	s, err := OpenPromptStore(filepath.Join(t.TempDir(), "prompts.yaml"))
	require.NoError(t, err)

	require.NoError(t, s.Update(Prompts{SystemPrompt: "Only this changed."}))
	got := s.Get()
	require.Equal(t, "Only this changed.", got.SystemPrompt)
	require.Equal(t, DefaultPrompts().UserGreeting, got.UserGreeting)
	require.Equal(t, DefaultPrompts().FallbackResponse, got.FallbackResponse)
}

func TestOpenPromptStorePartialFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt: custom persona\n"), 0o644))

	s, err := OpenPromptStore(path)
	require.NoError(t, err)
	require.Equal(t, "custom persona", s.Get().SystemPrompt)
	require.Equal(t, DefaultPrompts().ContextInstruction, s.Get().ContextInstruction)
}

func TestOpenPromptStoreBadYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "prompts.yaml")
	require.NoError(t, os.WriteFile(path, []byte("system_prompt: [unterminated"), 0o644))
	_, err := OpenPromptStore(path)
	require.Error(t, err)
}

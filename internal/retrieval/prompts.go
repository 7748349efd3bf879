// Package retrieval answers questions against the vector index and builds
// source citations for the response.
package retrieval

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Prompts are the operator-editable texts that shape every answer.
type Prompts struct {
	SystemPrompt       string `yaml:"system_prompt" json:"system_prompt"`
	UserGreeting       string `yaml:"user_greeting" json:"user_greeting"`
	ContextInstruction string `yaml:"context_instruction" json:"context_instruction"`
	FallbackResponse   string `yaml:"fallback_response" json:"fallback_response"`
}

// DefaultPrompts returns the built-in prompt set used until an operator
// customizes them.
func DefaultPrompts() Prompts {
	return Prompts{
		SystemPrompt: "You are a careful, supportive health information assistant. " +
			"Answer using only the provided context. If the context does not cover the " +
			"question, say so and suggest consulting a healthcare professional.",
		UserGreeting: "Hello! Ask me anything about the health topics in my library.",
		ContextInstruction: "Use the following excerpts from the document library to " +
			"answer the question:",
		FallbackResponse: "I don't have any indexed documents yet, so I can't answer " +
			"from the library. Please upload documents and rebuild the index first.",
	}
}

// PromptStore persists prompts to a YAML file. Missing file means defaults.
type PromptStore struct {
	mu      sync.RWMutex
	path    string
	prompts Prompts
}

// OpenPromptStore loads prompts from path, falling back to defaults when the
// file does not exist yet.
func OpenPromptStore(path string) (*PromptStore, error) {
	s := &PromptStore{path: path, prompts: DefaultPrompts()}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}
	var p Prompts
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing prompts %s: %w", path, err)
	}
	s.prompts = fillDefaults(p)
	return s, nil
}

// Get returns the current prompt set.
func (s *PromptStore) Get() Prompts {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prompts
}

// Update replaces the prompt set and writes it to disk. Empty fields keep
// their defaults.
func (s *PromptStore) Update(p Prompts) error {
	p = fillDefaults(p)
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding prompts: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating prompts dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing prompts: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing prompts: %w", err)
	}
	s.prompts = p
	return nil
}

func fillDefaults(p Prompts) Prompts {
	def := DefaultPrompts()
	if p.SystemPrompt == "" {
		p.SystemPrompt = def.SystemPrompt
	}
	if p.UserGreeting == "" {
		p.UserGreeting = def.UserGreeting
	}
	if p.ContextInstruction == "" {
		p.ContextInstruction = def.ContextInstruction
	}
	if p.FallbackResponse == "" {
		p.FallbackResponse = def.FallbackResponse
	}
	return p
}

// Package provider abstracts the external LLM and embedding services.
package provider

import (
	"context"
	"errors"

	"github.com/vitalita/healthassist/config"
	"github.com/vitalita/healthassist/provider/openai"
)

// Message roles used in stored conversation history.
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// ChatMessage is one prior conversation turn passed to the completion call.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider is the interface all LLM implementations must satisfy.
type Provider interface {
	// CreateEmbedding maps texts to fixed-length vectors.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Answer phrases a reply to question given the system prompt (persona
	// plus retrieved context) and the capped conversation history.
	Answer(ctx context.Context, system string, history []ChatMessage, question string) (string, error)
}

// NewProvider builds a Provider from configuration.
func NewProvider(cfg config.ProviderConfig) (Provider, error) {
	switch cfg.Type {
	case "openai":
		return &openaiAdapter{client: openai.NewClient(
			cfg.APIKey,
			cfg.CompletionModel,
			cfg.EmbeddingModel,
			cfg.Temperature,
			cfg.MaxTokens,
			cfg.Timeout,
		)}, nil
	default:
		return nil, errors.New("unsupported provider type")
	}
}

type openaiAdapter struct {
	client *openai.Client
}

func (a *openaiAdapter) CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error) {
	return a.client.CreateEmbedding(ctx, texts)
}

func (a *openaiAdapter) Answer(ctx context.Context, system string, history []ChatMessage, question string) (string, error) {
	msgs := make([]openai.Message, 0, len(history)+2)
	msgs = append(msgs, openai.Message{Role: "system", Content: system})
	for _, m := range history {
		role := "user"
		if m.Role == RoleAI {
			role = "assistant"
		}
		msgs = append(msgs, openai.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, openai.Message{Role: "user", Content: question})
	return a.client.Complete(ctx, msgs)
}

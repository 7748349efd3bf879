package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/vitalita/healthassist/internal/chat"
	"github.com/vitalita/healthassist/internal/index"
	"github.com/vitalita/healthassist/provider"
)

// ErrNotReady means the vector index has not been built yet. Callers answer
// with the configured fallback response.
var ErrNotReady = errors.New("index not ready")

// Result is one answered question with its source citations.
type Result struct {
	Answer  string
	Sources map[string][]int
}

// Engine runs the retrieval-augmented answer flow: embed the question, pull
// the nearest chunks, and have the provider phrase a grounded reply.
type Engine struct {
	handles       *index.Handles
	llm           provider.Provider
	sessions      chat.Store
	prompts       *PromptStore
	topK          int
	maxContextLen int
	logger        *log.Logger
}

// NewEngine wires the answer flow. Non-positive topK and maxContextLen fall
// back to 5 and 8000.
func NewEngine(handles *index.Handles, llm provider.Provider, sessions chat.Store,
	prompts *PromptStore, topK, maxContextLen int, logger *log.Logger) *Engine {
	if topK <= 0 {
		topK = 5
	}
	if maxContextLen <= 0 {
		maxContextLen = 8000
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		handles:       handles,
		llm:           llm,
		sessions:      sessions,
		prompts:       prompts,
		topK:          topK,
		maxContextLen: maxContextLen,
		logger:        logger,
	}
}

// Ask answers a question within a session. The session's history is sent to
// the provider and the exchange is recorded afterwards.
func (e *Engine) Ask(ctx context.Context, sessionID, question string) (Result, error) {
	coll, err := e.handles.Get(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("resolving index: %w", err)
	}
	if coll == nil {
		return Result{}, ErrNotReady
	}

	if err := e.sessions.Touch(ctx, sessionID); err != nil {
		return Result{}, err
	}
	history, err := e.sessions.History(ctx, sessionID)
	if err != nil {
		return Result{}, err
	}

	embeddings, err := e.llm.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return Result{}, fmt.Errorf("embedding question: %w", err)
	}
	if len(embeddings) == 0 {
		return Result{}, errors.New("provider returned no embedding")
	}

	res, err := coll.Query(ctx, embeddings[0], e.topK)
	if err != nil {
		return Result{}, fmt.Errorf("querying index: %w", err)
	}

	p := e.prompts.Get()
	contextText := buildContext(res.Documents, e.maxContextLen)
	system := p.SystemPrompt
	if contextText != "" {
		system = p.SystemPrompt + "\n\n" + p.ContextInstruction + "\n\n" + contextText
	}

	answer, err := e.llm.Answer(ctx, system, history, question)
	if err != nil {
		return Result{}, fmt.Errorf("generating answer: %w", err)
	}

	if err := e.sessions.Append(ctx, sessionID, question, answer); err != nil {
		e.logger.Printf("[CHAT] recording history for %s: %v", sessionID, err)
	}

	return Result{Answer: answer, Sources: BuildCitations(res.Metadatas)}, nil
}

// History returns the retained conversation for a session.
func (e *Engine) History(ctx context.Context, sessionID string) ([]provider.ChatMessage, error) {
	return e.sessions.History(ctx, sessionID)
}

// ClearSession drops a session and its history.
func (e *Engine) ClearSession(ctx context.Context, sessionID string) error {
	return e.sessions.Clear(ctx, sessionID)
}

// buildContext joins chunks until the length cap, truncating the chunk that
// crosses it.
func buildContext(docs []string, maxLen int) string {
	var b strings.Builder
	for _, doc := range docs {
		if doc == "" {
			continue
		}
		if b.Len() > 0 {
			if b.Len()+2 >= maxLen {
				break
			}
			b.WriteString("\n\n")
		}
		remaining := maxLen - b.Len()
		if remaining <= 0 {
			break
		}
		if len(doc) > remaining {
			b.WriteString(doc[:remaining])
			break
		}
		b.WriteString(doc)
	}
	return b.String()
}

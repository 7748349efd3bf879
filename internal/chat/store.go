// Package chat stores per-session conversation history with idle expiry.
package chat

import (
	"context"
	"fmt"

	"github.com/vitalita/healthassist/config"
	"github.com/vitalita/healthassist/provider"
)

// Store keeps conversation history per session. Sessions expire after the
// configured idle timeout; reading or appending refreshes the clock.
type Store interface {
	// Touch marks the session active, creating it if needed.
	Touch(ctx context.Context, sessionID string) error
	// Exists reports whether the session is known and not expired.
	Exists(ctx context.Context, sessionID string) (bool, error)
	// History returns the retained messages, oldest first.
	History(ctx context.Context, sessionID string) ([]provider.ChatMessage, error)
	// Append records one exchange and trims history to the cap.
	Append(ctx context.Context, sessionID, question, answer string) error
	// Clear drops the session entirely.
	Clear(ctx context.Context, sessionID string) error
}

// NewStore builds the configured session store.
func NewStore(cfg config.ChatConfig) (Store, error) {
	switch cfg.Store {
	case "inmemory":
		return NewMemoryStore(cfg.SessionTimeout, cfg.HistoryCap), nil
	case "redis":
		return NewRedisStore(cfg.Redis, cfg.SessionTimeout, cfg.HistoryCap)
	default:
		return nil, fmt.Errorf("chat store %q is not supported", cfg.Store)
	}
}

package chat

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitalita/healthassist/provider"
)

type session struct {
	history  []provider.ChatMessage
	lastSeen time.Time
}

// MemoryStore is the default single-process session store. Expired sessions
// are swept opportunistically on access, at most once a minute.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*session
	timeout  time.Duration
	cap      int
	sweeper  *rate.Limiter
	now      func() time.Time
}

// NewMemoryStore builds a MemoryStore with the given idle timeout and
// history cap. Non-positive values fall back to 30 minutes and 10 messages.
func NewMemoryStore(timeout time.Duration, historyCap int) *MemoryStore {
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	if historyCap <= 0 {
		historyCap = 10
	}
	return &MemoryStore{
		sessions: map[string]*session{},
		timeout:  timeout,
		cap:      historyCap,
		sweeper:  rate.NewLimiter(rate.Every(time.Minute), 1),
		now:      time.Now,
	}
}

func (m *MemoryStore) Touch(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = &session{}
		m.sessions[sessionID] = s
	}
	s.lastSeen = m.now()
	return nil
}

func (m *MemoryStore) Exists(_ context.Context, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return false, nil
	}
	if m.expired(s) {
		delete(m.sessions, sessionID)
		return false, nil
	}
	return true, nil
}

func (m *MemoryStore) History(_ context.Context, sessionID string) ([]provider.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		return nil, nil
	}
	s.lastSeen = m.now()
	out := make([]provider.ChatMessage, len(s.history))
	copy(out, s.history)
	return out, nil
}

func (m *MemoryStore) Append(_ context.Context, sessionID, question, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweep()
	s, ok := m.sessions[sessionID]
	if !ok || m.expired(s) {
		s = &session{}
		m.sessions[sessionID] = s
	}
	s.history = append(s.history,
		provider.ChatMessage{Role: provider.RoleHuman, Content: question},
		provider.ChatMessage{Role: provider.RoleAI, Content: answer},
	)
	if len(s.history) > m.cap {
		s.history = s.history[len(s.history)-m.cap:]
	}
	s.lastSeen = m.now()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

func (m *MemoryStore) expired(s *session) bool {
	return m.now().Sub(s.lastSeen) > m.timeout
}

// sweep drops expired sessions. Callers hold the mutex; the limiter keeps
// full scans to once a minute.
func (m *MemoryStore) sweep() {
	if !m.sweeper.Allow() {
		return
	}
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
		}
	}
}

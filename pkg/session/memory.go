package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harun/codexmcp/internal/observability"
	"github.com/harun/codexmcp/internal/tracing"
	"github.com/rs/zerolog/log"
)

const backendMemory = "memory"

// MemoryStore keeps sessions in process memory. It is the default backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// CreateSession creates a session with a fresh id and no conversation id
func (m *MemoryStore) CreateSession(ctx context.Context) (string, error) {
	ctx, finish := startOp(ctx, backendMemory, "create", "")
	id := uuid.New().String()
	now := m.now()

	m.mu.Lock()
	m.sessions[id] = &Session{
		SessionID: id,
		CreatedAt: now,
		UpdatedAt: now,
	}
	count := len(m.sessions)
	m.mu.Unlock()

	finish(nil)
	observability.SetActiveSessions(count)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Str("session_id", id).Msg("Session created")
	return id, nil
}

// GetSession returns a copy so callers cannot mutate stored state.
func (m *MemoryStore) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	_, finish := startOp(ctx, backendMemory, "get", sessionID)

	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	var out Session
	if ok {
		out = *s
	}
	m.mu.RUnlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		finish(err)
		return nil, err
	}
	finish(nil)
	return &out, nil
}

// UpdateConversationID stores the codex conversation id and refreshes UpdatedAt
func (m *MemoryStore) UpdateConversationID(ctx context.Context, sessionID, conversationID string) error {
	_, finish := startOp(ctx, backendMemory, "update_conversation", sessionID)

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.ConversationID = conversationID
		s.UpdatedAt = m.now()
	}
	m.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		finish(err)
		return err
	}
	finish(nil)
	return nil
}

// Touch refreshes UpdatedAt
func (m *MemoryStore) Touch(ctx context.Context, sessionID string) error {
	_, finish := startOp(ctx, backendMemory, "touch", sessionID)

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		s.UpdatedAt = m.now()
	}
	m.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		finish(err)
		return err
	}
	finish(nil)
	return nil
}

// ListSessions returns sessions ordered by creation time.
func (m *MemoryStore) ListSessions(ctx context.Context) ([]Session, error) {
	_, finish := startOp(ctx, backendMemory, "list", "")

	m.mu.RLock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, *s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	finish(nil)
	return out, nil
}

// DeleteSession removes a session
func (m *MemoryStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, finish := startOp(ctx, backendMemory, "delete", sessionID)

	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		err := fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		finish(err)
		return err
	}
	finish(nil)
	observability.SetActiveSessions(count)
	return nil
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}

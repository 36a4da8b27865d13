package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PigStep/Vibe-BPMN-studio/internal/model/chat"
)

var (
	ErrSessionRequired = errors.New("session id is required")
	ErrSessionNotFound = errors.New("session not found")
)

// Store persists sessions, their transcripts and the latest diagram.
type Store interface {
	EnsureSession(ctx context.Context, sessionID string) (chat.Session, error)
	GetSession(ctx context.Context, sessionID string) (chat.Session, error)
	SaveMessage(ctx context.Context, message chat.Message) error
	LoadTranscript(ctx context.Context, sessionID string) ([]chat.Message, error)
	SaveDiagram(ctx context.Context, sessionID, xml string) error
	CurrentDiagram(ctx context.Context, sessionID string) (string, error)
}

// MemoryStore keeps conversation state in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	messages map[string][]chat.Message
	diagrams map[string]string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore bootstraps an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		messages: make(map[string][]chat.Message),
		diagrams: make(map[string]string),
	}
}

// EnsureSession returns the session, creating it on first use. Identifiers
// are chosen by the client and never rotated here.
func (s *MemoryStore) EnsureSession(_ context.Context, sessionID string) (chat.Session, error) {
	if sessionID == "" {
		return chat.Session{}, ErrSessionRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if session, ok := s.sessions[sessionID]; ok {
		return session, nil
	}

	now := time.Now().UTC()
	session := chat.Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}
	s.sessions[sessionID] = session
	s.messages[sessionID] = make([]chat.Message, 0, 16)
	return session, nil
}

// GetSession retrieves a session by identifier.
func (s *MemoryStore) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

// SaveMessage appends a message to the session history.
func (s *MemoryStore) SaveMessage(_ context.Context, message chat.Message) error {
	if message.SessionID == "" {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[message.SessionID]
	if !ok {
		return ErrSessionNotFound
	}

	message.ID = uuid.NewString()
	if message.CreatedAt.IsZero() {
		message.CreatedAt = time.Now().UTC()
	}

	s.messages[message.SessionID] = append(s.messages[message.SessionID], message)
	session.UpdatedAt = message.CreatedAt
	s.sessions[message.SessionID] = session
	return nil
}

// LoadTranscript returns stored messages for the provided session.
func (s *MemoryStore) LoadTranscript(_ context.Context, sessionID string) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages, ok := s.messages[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	copied := make([]chat.Message, len(messages))
	copy(copied, messages)
	return copied, nil
}

// SaveDiagram replaces the session's current diagram.
func (s *MemoryStore) SaveDiagram(_ context.Context, sessionID, xml string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrSessionNotFound
	}
	s.diagrams[sessionID] = xml
	return nil
}

// CurrentDiagram returns the latest diagram, or "" when none was generated yet.
func (s *MemoryStore) CurrentDiagram(_ context.Context, sessionID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return "", ErrSessionNotFound
	}
	return s.diagrams[sessionID], nil
}

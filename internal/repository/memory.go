package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zhouzirui/cyberbuddy/backend/internal/model/chat"
	"github.com/zhouzirui/cyberbuddy/backend/internal/model/user"
)

// MemoryStore 是基于内存的 Store，适合本地开发与测试。
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]chat.Session
	turns    map[string][]chat.Turn
	users    map[string]user.User
	now      func() time.Time
}

// NewMemoryStore 创建空的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]chat.Session),
		turns:    make(map[string][]chat.Turn),
		users:    make(map[string]user.User),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (chat.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	return session, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, ownerID, title string) (chat.Session, error) {
	if ownerID == "" {
		return chat.Session{}, fmt.Errorf("create session: owner id is required")
	}

	now := s.now()
	session := chat.Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Title:     normalizeTitle(title),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.turns[session.ID] = make([]chat.Turn, 0, 16)
	s.mu.Unlock()

	return session, nil
}

func (s *MemoryStore) ListSessions(_ context.Context, ownerID string) ([]chat.Session, error) {
	s.mu.RLock()
	sessions := make([]chat.Session, 0)
	for _, session := range s.sessions {
		if session.OwnerID == ownerID {
			sessions = append(sessions, session)
		}
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	delete(s.turns, id)
	return nil
}

func (s *MemoryStore) ListTurns(_ context.Context, sessionID string) ([]chat.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]chat.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, sessionID string, role chat.Role, content string) (chat.Turn, error) {
	if !role.Valid() {
		return chat.Turn{}, fmt.Errorf("append turn: invalid role %q", role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return chat.Turn{}, ErrSessionNotFound
	}

	turn := chat.Turn{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: s.now(),
	}
	existing := s.turns[sessionID]
	if n := len(existing); n > 0 && turn.CreatedAt.Before(existing[n-1].CreatedAt) {
		turn.CreatedAt = existing[n-1].CreatedAt
	}

	s.turns[sessionID] = append(existing, turn)
	return turn, nil
}

func (s *MemoryStore) TouchSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if now := s.now(); now.After(session.UpdatedAt) {
		session.UpdatedAt = now
	}
	s.sessions[sessionID] = session
	return nil
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, id user.Identity) (user.User, error) {
	if id.SubjectID == "" {
		return user.User{}, fmt.Errorf("get or create user: subject id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.users[id.SubjectID]; ok {
		return existing, nil
	}
	created := user.FromIdentity(id, s.now())
	s.users[id.SubjectID] = created
	return created, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

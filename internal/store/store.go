// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// MemoryStore keeps sessions in process memory. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*schemas.Session
	order    map[string]int64
	seq      int64
	log      *zap.Logger
}

var _ schemas.SessionStore = (*MemoryStore)(nil)

// New creates an empty store.
func New(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		sessions: make(map[string]*schemas.Session),
		order:    make(map[string]int64),
		log:      logger.Named("store"),
	}
}

// Save inserts or replaces a session. Replacing keeps its original position
// in List.
func (s *MemoryStore) Save(ctx context.Context, session *schemas.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if session == nil || session.ID == "" {
		return fmt.Errorf("cannot save a session without an ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.order[session.ID]; !ok {
		s.seq++
		s.order[session.ID] = s.seq
	}
	s.sessions[session.ID] = session
	s.log.Debug("Session saved.", zap.String("session_id", session.ID))
	return nil
}

// Get returns the session or schemas.ErrSessionNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*schemas.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", schemas.ErrSessionNotFound, id)
	}
	return session, nil
}

// List returns all sessions in insertion order.
func (s *MemoryStore) List(ctx context.Context) ([]*schemas.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schemas.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order[out[i].ID] < s.order[out[j].ID]
	})
	return out, nil
}

// Delete removes a session. Unknown IDs are ignored.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		delete(s.order, id)
		s.log.Debug("Session deleted.", zap.String("session_id", id))
	}
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

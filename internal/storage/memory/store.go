// Package memory provides an in-memory SessionStore for tests and
// single-process deployments.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openparlor/parlor/internal/coord/session"
	"github.com/openparlor/parlor/internal/storage"
)

// Store keeps session records in a map guarded by a mutex.
type Store struct {
	mu       sync.Mutex
	sessions map[string][]byte
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{sessions: make(map[string][]byte)}
}

// PutSession implements storage.SessionStore. Records are stored as JSON so
// callers cannot share mutable state with the store.
func (s *Store) PutSession(_ context.Context, sess session.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	s.mu.Lock()
	s.sessions[sess.ID] = raw
	s.mu.Unlock()
	return nil
}

// GetSession implements storage.SessionStore.
func (s *Store) GetSession(_ context.Context, id string) (session.Session, error) {
	s.mu.Lock()
	raw, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok {
		return session.Session{}, storage.ErrNotFound
	}

	var sess session.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return session.Session{}, fmt.Errorf("unmarshal session: %w", err)
	}
	return sess, nil
}

// ListActiveSessions implements storage.SessionStore.
func (s *Store) ListActiveSessions(ctx context.Context) ([]session.Session, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var active []session.Session
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess.Active {
			active = append(active, sess)
		}
	}
	return active, nil
}

// DeleteSession implements storage.SessionStore.
func (s *Store) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Package store provides the file-backed implementations of the store
// interfaces in internal/types. The persistence engine proper is an
// external concern; these implementations are what the daemon runs with
// locally and what the tests exercise.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
)

// SessionStore is a JSON-file-backed session index. Session rows live in
// sessions/sessions.json; per-session data lives under sessions/<id>/.
type SessionStore struct {
	root string
	mu   sync.RWMutex
}

// NewSessionStore creates a file-backed SessionStore rooted at dir.
func NewSessionStore(root string) *SessionStore {
	return &SessionStore{root: root}
}

func (s *SessionStore) indexPath() string {
	return filepath.Join(s.root, "sessions", "sessions.json")
}

func (s *SessionStore) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *SessionStore) sessionDir(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id))
}

func (s *SessionStore) loadIndex() ([]*types.Session, error) {
	data, err := os.ReadFile(s.indexPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}
	var sessions []*types.Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return nil, fmt.Errorf("unmarshal session index: %w", err)
	}
	return sessions, nil
}

// saveIndex marshals with indentation and writes atomically via tmp+rename.
func (s *SessionStore) saveIndex(sessions []*types.Session) error {
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.MkdirAll(s.sessionsDir(), 0o755); err != nil {
		return fmt.Errorf("create sessions dir: %w", err)
	}
	tmp := s.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err := os.Rename(tmp, s.indexPath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp index: %w", err)
	}
	return nil
}

// Create starts a new session at the first stage. A user with an active
// session cannot create another; the old one must be deactivated first.
func (s *SessionStore) Create(_ context.Context, userID types.UserID) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.UserID == userID && sess.Active {
			return nil, fmt.Errorf("user %s: %w", userID, types.ErrActiveSessionExists)
		}
	}

	now := time.Now()
	session := &types.Session{
		ID:        types.NewSessionID(),
		UserID:    userID,
		Stage:     stage.Invoking,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	sessions = append(sessions, session)

	if err := s.saveIndex(sessions); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.sessionDir(session.ID), 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return session, nil
}

// Get returns the session with the given ID.
func (s *SessionStore) Get(_ context.Context, id types.SessionID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID == id {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
}

// ActiveForUser returns the user's single active session, if any.
func (s *SessionStore) ActiveForUser(_ context.Context, userID types.UserID) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.UserID == userID && sess.Active {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("active session for user %s: %w", userID, types.ErrNotFound)
}

// ListForUser returns every session owned by the user, newest first.
func (s *SessionStore) ListForUser(_ context.Context, userID types.UserID) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	var out []*types.Session
	for _, sess := range sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	return out, nil
}

// List returns all sessions.
func (s *SessionStore) List(_ context.Context) ([]*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadIndex()
}

func (s *SessionStore) update(id types.SessionID, fn func(*types.Session)) (*types.Session, error) {
	sessions, err := s.loadIndex()
	if err != nil {
		return nil, err
	}
	for _, sess := range sessions {
		if sess.ID == id {
			fn(sess)
			sess.UpdatedAt = time.Now()
			if err := s.saveIndex(sessions); err != nil {
				return nil, err
			}
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session %s: %w", id, types.ErrNotFound)
}

// SetStage persists a new current stage and returns the updated session.
func (s *SessionStore) SetStage(_ context.Context, id types.SessionID, st stage.Stage) (*types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.update(id, func(sess *types.Session) { sess.Stage = st })
}

// Deactivate soft-deletes the session. Deactivated sessions are kept for
// history and never removed.
func (s *SessionStore) Deactivate(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.update(id, func(sess *types.Session) { sess.Active = false })
	return err
}

// Touch bumps the session's UpdatedAt so the sweeper sees it as live.
func (s *SessionStore) Touch(_ context.Context, id types.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.update(id, func(*types.Session) {})
	return err
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/sagecodex/internal/types"
)

// StateStore keeps one adventure-state document per session at
// sessions/<id>/state.json, written atomically.
type StateStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewStateStore creates a file-backed StateStore rooted at dir.
func NewStateStore(root string) *StateStore {
	return &StateStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (s *StateStore) getLock(id types.SessionID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func (s *StateStore) statePath(id types.SessionID) string {
	return filepath.Join(s.root, "sessions", string(id), "state.json")
}

// Get returns the session's adventure state.
func (s *StateStore) Get(_ context.Context, id types.SessionID) (*types.AdventureState, error) {
	lock := s.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.statePath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("state for session %s: %w", id, types.ErrNotFound)
		}
		return nil, fmt.Errorf("read state: %w", err)
	}
	var state types.AdventureState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// Put replaces the session's adventure state atomically.
func (s *StateStore) Put(_ context.Context, state *types.AdventureState) error {
	lock := s.getLock(state.SessionID)
	lock.Lock()
	defer lock.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := s.statePath(state.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp state: %w", err)
	}
	return nil
}

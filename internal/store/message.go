package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/sagecodex/internal/types"
)

// MessageStore is a JSONL-backed append-only conversation log. Messages
// are stored per-session in sessions/<id>/messages.jsonl; the file is the
// ordering authority for replay.
type MessageStore struct {
	root  string
	mu    sync.Mutex
	locks map[types.SessionID]*sync.Mutex
}

// NewMessageStore creates a file-backed MessageStore rooted at dir.
func NewMessageStore(root string) *MessageStore {
	return &MessageStore{
		root:  root,
		locks: make(map[types.SessionID]*sync.Mutex),
	}
}

func (m *MessageStore) getLock(id types.SessionID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lock, ok := m.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	m.locks[id] = lock
	return lock
}

func (m *MessageStore) messagesPath(id types.SessionID) string {
	return filepath.Join(m.root, "sessions", string(id), "messages.jsonl")
}

// count reads the log and counts lines. Caller must hold the session lock.
func (m *MessageStore) count(id types.SessionID) (int64, error) {
	f, err := os.Open(m.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan messages file: %w", err)
	}
	return count, nil
}

// Append adds a message with an auto-incremented sequence number. Stored
// messages are immutable; there is deliberately no update operation.
func (m *MessageStore) Append(_ context.Context, msg *types.ConversationMessage) error {
	lock := m.getLock(msg.SessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := filepath.Dir(m.messagesPath(msg.SessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	existing, err := m.count(msg.SessionID)
	if err != nil {
		return err
	}
	msg.Seq = existing + 1

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	f, err := os.OpenFile(m.messagesPath(msg.SessionID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// History returns the last N messages for the session, in order.
func (m *MessageStore) History(_ context.Context, id types.SessionID, limit int) ([]*types.ConversationMessage, error) {
	lock := m.getLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(m.messagesPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open messages file: %w", err)
	}
	defer f.Close()

	var messages []*types.ConversationMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg types.ConversationMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan messages file: %w", err)
	}

	if limit > 0 && len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// Count returns the number of messages for the session.
func (m *MessageStore) Count(_ context.Context, id types.SessionID) (int64, error) {
	lock := m.getLock(id)
	lock.Lock()
	defer lock.Unlock()
	return m.count(id)
}

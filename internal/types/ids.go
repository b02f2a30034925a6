// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type UserID string
type MessageID string
type ToolCallID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewToolCallID() ToolCallID {
	return ToolCallID(uuid.New().String())
}

// internal/types/interfaces.go
package types

import (
	"context"
	"errors"

	"github.com/user/sagecodex/internal/stage"
)

// ErrNotFound is returned by stores when the requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrActiveSessionExists is returned by Create when the user already has
// an active session.
var ErrActiveSessionExists = errors.New("an active session already exists")

// SessionStore holds the session index. Implementations must enforce the
// one-active-session-per-user invariant in Create.
type SessionStore interface {
	Create(ctx context.Context, userID UserID) (*Session, error)
	Get(ctx context.Context, id SessionID) (*Session, error)
	ActiveForUser(ctx context.Context, userID UserID) (*Session, error)
	ListForUser(ctx context.Context, userID UserID) ([]*Session, error)
	List(ctx context.Context) ([]*Session, error)
	SetStage(ctx context.Context, id SessionID, s stage.Stage) (*Session, error)
	Deactivate(ctx context.Context, id SessionID) error
	Touch(ctx context.Context, id SessionID) error
}

// MessageStore is the append-only conversation log. Append assigns the
// sequence number; messages are immutable once written.
type MessageStore interface {
	Append(ctx context.Context, msg *ConversationMessage) error
	History(ctx context.Context, id SessionID, limit int) ([]*ConversationMessage, error)
	Count(ctx context.Context, id SessionID) (int64, error)
}

// StateStore holds one adventure-state document per session.
type StateStore interface {
	Get(ctx context.Context, id SessionID) (*AdventureState, error)
	Put(ctx context.Context, state *AdventureState) error
}

// UsageLog records token consumption. Failures are non-fatal to the turn.
type UsageLog interface {
	Record(ctx context.Context, rec *UsageRecord) error
}

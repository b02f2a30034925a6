// internal/types/models.go
package types

import (
	"time"

	"github.com/user/sagecodex/internal/stage"
)

// Session is one in-progress adventure owned by one user. A user has at
// most one active session at a time; abandoned sessions are deactivated,
// never deleted.
type Session struct {
	ID        SessionID   `json:"id"`
	UserID    UserID      `json:"user_id"`
	Stage     stage.Stage `json:"stage"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// FrameOption is one thematic frame the model can offer during Binding.
type FrameOption struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SceneSection is a written block of content within a scene.
type SceneSection struct {
	Heading string `json:"heading"`
	Content string `json:"content"`
}

// SceneOutline is one planned scene with its written sections.
type SceneOutline struct {
	Title    string         `json:"title"`
	Summary  string         `json:"summary"`
	Sections []SceneSection `json:"sections,omitempty"`
}

// AdventureState is the structured content a session accumulates across
// stages. It is mutated only through tool handlers.
type AdventureState struct {
	SessionID     SessionID            `json:"session_id"`
	VisionSummary string               `json:"vision_summary,omitempty"`
	Config        map[string]string    `json:"config,omitempty"`
	FrameOptions  []FrameOption        `json:"frame_options,omitempty"`
	SelectedFrame *FrameOption         `json:"selected_frame,omitempty"`
	Scenes        []SceneOutline       `json:"scenes,omitempty"`
	StageReady    map[stage.Stage]bool `json:"stage_ready,omitempty"`
	Finalized     bool                 `json:"finalized"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// NewAdventureState returns an empty state document for a session.
func NewAdventureState(id SessionID) *AdventureState {
	return &AdventureState{
		SessionID:  id,
		Config:     make(map[string]string),
		StageReady: make(map[stage.Stage]bool),
		UpdatedAt:  time.Now(),
	}
}

// Message roles. The conversation log only ever holds these two; tool
// results are folded into the assistant record's ToolCalls.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolCallRecord is one tool invocation made during an assistant turn,
// kept with the message for replay and audit.
type ToolCallRecord struct {
	ID      ToolCallID `json:"id"`
	Name    string     `json:"name"`
	Input   string     `json:"input"`
	Result  string     `json:"result"`
	IsError bool       `json:"is_error,omitempty"`
}

// TokenUsage is the summed token consumption of a turn.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ConversationMessage is one append-only log entry. Messages are immutable
// once stored; the ordered log is the sole context replayed to the model.
type ConversationMessage struct {
	ID        MessageID        `json:"id"`
	SessionID SessionID        `json:"session_id"`
	Seq       int64            `json:"seq"`
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ToolCallRecord `json:"tool_calls,omitempty"`
	Usage     *TokenUsage      `json:"usage,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// UsageRecord is one best-effort usage log line.
type UsageRecord struct {
	SessionID    SessionID `json:"session_id"`
	UserID       UserID    `json:"user_id"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	Rounds       int       `json:"rounds"`
	At           time.Time `json:"at"`
}

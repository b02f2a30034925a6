// Package sse implements the wire protocol between the turn endpoint and
// its clients: named events carrying JSON payloads, blank-line framed.
package sse

// Event type names. Clients must ignore names they do not recognise so new
// panel kinds can ship without breaking older clients.
const (
	TypeChatStart = "chat:start"
	TypeChatDelta = "chat:delta"
	TypeChatEnd   = "chat:end"
	TypeToolStart = "tool:start"
	TypeToolEnd   = "tool:end"
	TypeUIReady   = "ui:ready"
	TypeError     = "error"

	TypePanelVision        = "panel:vision"
	TypePanelConfig        = "panel:config"
	TypePanelFrames        = "panel:frames"
	TypePanelFrameSelected = "panel:frame_selected"
	TypePanelScenes        = "panel:scenes"
	TypePanelSection       = "panel:section"
	TypePanelReady         = "panel:ready"
	TypePanelFinalized     = "panel:finalized"

	// DefaultType is assumed when a frame carries no event line, per the
	// SSE specification.
	DefaultType = "message"
)

// Event is one server-to-client notification. Data is marshalled to JSON
// on encode.
type Event struct {
	Type string
	Data any
}

// EmitFunc delivers one event toward the client. The transport adapter at
// the HTTP edge is the only implementation that performs real writes.
type EmitFunc func(Event) error

// ChatStart opens an assistant turn.
type ChatStart struct {
	MessageID string `json:"messageId"`
}

// ChatDelta carries one increment of assistant text. Deltas for a message
// concatenate in arrival order.
type ChatDelta struct {
	MessageID string `json:"messageId"`
	Content   string `json:"content"`
}

// ChatEnd closes an assistant turn with the usage summed across all tool
// rounds.
type ChatEnd struct {
	MessageID    string `json:"messageId"`
	InputTokens  int    `json:"inputTokens"`
	OutputTokens int    `json:"outputTokens"`
}

// ToolStart marks the beginning of one tool invocation.
type ToolStart struct {
	Tool string `json:"tool"`
	ID   string `json:"id"`
}

// ToolEnd marks the completion of one tool invocation.
type ToolEnd struct {
	Tool    string `json:"tool"`
	ID      string `json:"id"`
	Summary string `json:"summary"`
	IsError bool   `json:"isError,omitempty"`
}

// Error is the terminal event on a stream that failed after the headers
// were committed.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

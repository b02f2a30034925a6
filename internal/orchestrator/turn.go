package orchestrator

// Turn is the inbound side of one conversation cycle. The persisted flag
// is part of the type, not a convention: synthetic turns (the greeting
// trigger) are never written to the conversation log.
type Turn struct {
	content   string
	persisted bool
}

// UserTurn is a real user message; it is persisted with the turn.
func UserTurn(content string) Turn {
	return Turn{content: content, persisted: true}
}

// SyntheticTurn is a system-generated trigger message, sent to the model
// but never stored.
func SyntheticTurn(content string) Turn {
	return Turn{content: content, persisted: false}
}

func (t Turn) Content() string { return t.content }
func (t Turn) Persist() bool   { return t.persisted }

// Package orchestrator implements the conversation turn loop: stream a
// completion, forward its events, dispatch requested tool calls, feed the
// results back, and repeat until the model settles on a final answer or
// the round ceiling is hit.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/prompts"
	"github.com/user/sagecodex/internal/tools"
	"github.com/user/sagecodex/internal/types"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

// DefaultMaxRounds bounds the model/tool ping-pong within one turn.
const DefaultMaxRounds = 5

// defaultHistoryLimit caps how many stored messages are replayed as
// context.
const defaultHistoryLimit = 100

// Orchestrator runs turns against explicitly injected dependencies; there
// are no package-level clients anywhere in this module.
type Orchestrator struct {
	provider   llm.Provider
	sessions   types.SessionStore
	messages   types.MessageStore
	states     types.StateStore
	usage      types.UsageLog
	registry   *tools.Registry
	dispatcher *tools.Dispatcher
	gate       *Gate
	estimator  *usageEstimator
	maxRounds  int
	log        zerolog.Logger
}

// New creates an Orchestrator. maxRounds <= 0 selects DefaultMaxRounds.
func New(
	provider llm.Provider,
	sessions types.SessionStore,
	messages types.MessageStore,
	states types.StateStore,
	usage types.UsageLog,
	registry *tools.Registry,
	gate *Gate,
	model string,
	maxRounds int,
	log zerolog.Logger,
) *Orchestrator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Orchestrator{
		provider:   provider,
		sessions:   sessions,
		messages:   messages,
		states:     states,
		usage:      usage,
		registry:   registry,
		dispatcher: tools.NewDispatcher(registry, log),
		gate:       gate,
		estimator:  newUsageEstimator(model),
		maxRounds:  maxRounds,
		log:        log,
	}
}

// PreparedTurn is a validated turn holding everything the loop needs plus
// the session lane. Callers must Close it on every path once Prepare has
// succeeded.
type PreparedTurn struct {
	session  *types.Session
	state    *types.AdventureState
	turn     Turn
	messages []llm.Message
	release  func()
}

// Close releases the session lane.
func (p *PreparedTurn) Close() {
	if p.release != nil {
		p.release()
		p.release = nil
	}
}

// Prepare validates the turn and assembles its model context. All
// validation failures happen here, before any stream is opened or any
// side effect occurs, so the HTTP layer can still answer with a status
// code.
func (o *Orchestrator) Prepare(ctx context.Context, sessionID types.SessionID, turn Turn) (*PreparedTurn, error) {
	if sessionID == "" {
		return nil, llm.Validation("sessionId is required")
	}
	if turn.Content() == "" {
		return nil, llm.Validation("message is required")
	}

	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return nil, llm.Validation(fmt.Sprintf("session %s not found", sessionID))
		}
		return nil, err
	}
	if !session.Active {
		return nil, llm.Validation("session is not active")
	}

	release, err := o.gate.Acquire(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionBusy) {
			return nil, llm.Validation(ErrSessionBusy.Error())
		}
		return nil, err
	}

	prepared := &PreparedTurn{session: session, turn: turn, release: release}

	state, err := o.states.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		prepared.Close()
		return nil, err
	}
	prepared.state = state

	history, err := o.messages.History(ctx, sessionID, defaultHistoryLimit)
	if err != nil {
		prepared.Close()
		return nil, err
	}

	msgs := []llm.Message{{
		Role:    "system",
		Content: prompts.System(session.Stage, state),
	}}
	msgs = append(msgs, replayHistory(history)...)
	msgs = append(msgs, llm.Message{Role: types.RoleUser, Content: turn.Content()})
	prepared.messages = msgs

	return prepared, nil
}

// replayHistory converts stored messages back into provider messages,
// reconstructing the assistant/tool-result exchange for turns that made
// tool calls.
func replayHistory(history []*types.ConversationMessage) []llm.Message {
	var out []llm.Message
	for _, msg := range history {
		if msg.Role != types.RoleAssistant || len(msg.ToolCalls) == 0 {
			out = append(out, llm.Message{Role: msg.Role, Content: msg.Content})
			continue
		}
		assistant := llm.Message{Role: types.RoleAssistant, Content: msg.Content}
		var results []llm.Message
		for _, rec := range msg.ToolCalls {
			assistant.Tools = append(assistant.Tools, llm.ToolCall{
				ID:   string(rec.ID),
				Type: "function",
				Function: llm.FunctionCall{
					Name:      rec.Name,
					Arguments: []byte(rec.Input),
				},
			})
			results = append(results, llm.Message{
				Role:       "tool",
				Content:    rec.Result,
				ToolCallID: string(rec.ID),
			})
		}
		out = append(out, assistant)
		out = append(out, results...)
	}
	return out
}

// TurnResult summarizes a finished turn.
type TurnResult struct {
	MessageID types.MessageID
	Text      string
	ToolCalls []types.ToolCallRecord
	Usage     llm.Usage
	Rounds    int
}

// Run executes the turn loop for a prepared turn, forwarding every event
// through emit as it happens. Failures returned from here occurred after
// the stream began; the caller must encode them as a terminal SSE error
// event, not an HTTP status.
func (o *Orchestrator) Run(ctx context.Context, p *PreparedTurn, emit sse.EmitFunc) (*TurnResult, error) {
	defer p.Close()

	messageID := types.NewMessageID()
	if err := emit(sse.Event{Type: sse.TypeChatStart, Data: sse.ChatStart{
		MessageID: string(messageID),
	}}); err != nil {
		return nil, err
	}

	result := &TurnResult{MessageID: messageID}
	msgs := p.messages
	llmTools := o.registry.LLMToolsFor(p.session.Stage)

	for round := 0; round < o.maxRounds; round++ {
		result.Rounds = round + 1

		text, toolCalls, usage, err := o.streamRound(ctx, msgs, llmTools, messageID, emit)
		if err != nil {
			return nil, err
		}
		if usage == nil {
			est := o.estimator.estimate(msgs, text)
			usage = &est
		}
		result.Usage.Add(*usage)
		result.Text += text

		if len(toolCalls) == 0 {
			break
		}

		dispatched, err := o.dispatcher.Dispatch(ctx, p.session.ID, p.session.Stage, toolCalls, emit)
		if err != nil {
			return nil, err
		}
		result.ToolCalls = append(result.ToolCalls, dispatched.Records...)

		// Follow-up turn: the assistant message carrying the tool calls,
		// then one tool result per call, in the order they were requested.
		msgs = append(msgs, llm.Message{
			Role:    types.RoleAssistant,
			Content: text,
			Tools:   toolCalls,
		})
		msgs = append(msgs, dispatched.ToolMessages...)
	}

	if err := emit(sse.Event{Type: sse.TypeChatEnd, Data: sse.ChatEnd{
		MessageID:    string(messageID),
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}}); err != nil {
		return nil, err
	}

	o.persistTurn(ctx, p, result)
	return result, nil
}

// streamRound consumes one streaming completion, forwarding text deltas
// immediately.
func (o *Orchestrator) streamRound(
	ctx context.Context,
	msgs []llm.Message,
	llmTools []llm.Tool,
	messageID types.MessageID,
	emit sse.EmitFunc,
) (string, []llm.ToolCall, *llm.Usage, error) {
	stream, err := o.provider.Stream(ctx, msgs, llmTools)
	if err != nil {
		return "", nil, nil, err
	}

	var text string
	var toolCalls []llm.ToolCall
	var usage *llm.Usage
	for ev := range stream {
		if ev.Err != nil {
			return "", nil, nil, ev.Err
		}
		if ev.Content != "" {
			text += ev.Content
			if err := emit(sse.Event{Type: sse.TypeChatDelta, Data: sse.ChatDelta{
				MessageID: string(messageID),
				Content:   ev.Content,
			}}); err != nil {
				return "", nil, nil, err
			}
		}
		if ev.Done {
			toolCalls = ev.ToolCalls
			usage = ev.Usage
		}
	}
	return text, toolCalls, usage, nil
}

// persistTurn stores exactly one user message (for persisted turns) and
// exactly one assistant message, then logs usage best-effort. Accounting
// failures are logged and swallowed; the user-visible turn already
// succeeded.
func (o *Orchestrator) persistTurn(ctx context.Context, p *PreparedTurn, result *TurnResult) {
	now := time.Now()
	if p.turn.Persist() {
		if err := o.messages.Append(ctx, &types.ConversationMessage{
			ID:        types.NewMessageID(),
			SessionID: p.session.ID,
			Role:      types.RoleUser,
			Content:   p.turn.Content(),
			CreatedAt: now,
		}); err != nil {
			o.log.Error().Err(err).Str("session_id", string(p.session.ID)).Msg("persist user message failed")
		}
	}
	if err := o.messages.Append(ctx, &types.ConversationMessage{
		ID:        result.MessageID,
		SessionID: p.session.ID,
		Role:      types.RoleAssistant,
		Content:   result.Text,
		ToolCalls: result.ToolCalls,
		Usage: &types.TokenUsage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		CreatedAt: now,
	}); err != nil {
		o.log.Error().Err(err).Str("session_id", string(p.session.ID)).Msg("persist assistant message failed")
	}

	if err := o.sessions.Touch(ctx, p.session.ID); err != nil {
		o.log.Warn().Err(err).Str("session_id", string(p.session.ID)).Msg("touch session failed")
	}
	if err := o.usage.Record(ctx, &types.UsageRecord{
		SessionID:    p.session.ID,
		UserID:       p.session.UserID,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Rounds:       result.Rounds,
		At:           now,
	}); err != nil {
		o.log.Warn().Err(err).Str("session_id", string(p.session.ID)).Msg("usage logging failed")
	}
}

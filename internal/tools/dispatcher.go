package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

// DispatchResult collects everything one batch of tool calls produced.
// Records and ToolMessages hold exactly one entry per requested call, in
// request order; providers require all results for a turn together and in
// order before the next turn is sent.
type DispatchResult struct {
	Records      []types.ToolCallRecord
	ToolMessages []llm.Message
}

// Dispatcher executes requested tool calls sequentially against the
// registry, emitting lifecycle and panel events as each call runs.
type Dispatcher struct {
	registry *Registry
	log      zerolog.Logger
}

// NewDispatcher creates a Dispatcher over the given registry.
func NewDispatcher(registry *Registry, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, log: log}
}

// Dispatch runs every call in order, resolving names against the tool
// set of the session's current stage. A failing handler never aborts the
// batch: the failure becomes an is_error result for that call and
// dispatch continues, so the model always receives one result per
// requested id.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID types.SessionID, s stage.Stage, calls []llm.ToolCall, emit sse.EmitFunc) (*DispatchResult, error) {
	res := &DispatchResult{
		Records:      make([]types.ToolCallRecord, 0, len(calls)),
		ToolMessages: make([]llm.Message, 0, len(calls)),
	}

	allowed := make(map[string]bool)
	for _, name := range stage.ToolNamesFor(s) {
		allowed[name] = true
	}

	for _, call := range calls {
		if err := emit(sse.Event{Type: sse.TypeToolStart, Data: sse.ToolStart{
			Tool: call.Function.Name,
			ID:   call.ID,
		}}); err != nil {
			return nil, err
		}

		result, panelEvents, execErr := d.invoke(ctx, sessionID, call, allowed)
		isError := execErr != nil
		if isError {
			result = fmt.Sprintf("error: %v", execErr)
			d.log.Warn().
				Str("session_id", string(sessionID)).
				Str("tool", call.Function.Name).
				Err(execErr).
				Msg("tool call failed")
		}

		for _, ev := range panelEvents {
			if err := emit(ev); err != nil {
				return nil, err
			}
		}
		if err := emit(sse.Event{Type: sse.TypeToolEnd, Data: sse.ToolEnd{
			Tool:    call.Function.Name,
			ID:      call.ID,
			Summary: result,
			IsError: isError,
		}}); err != nil {
			return nil, err
		}

		res.Records = append(res.Records, types.ToolCallRecord{
			ID:      types.ToolCallID(call.ID),
			Name:    call.Function.Name,
			Input:   string(call.Function.Arguments),
			Result:  result,
			IsError: isError,
		})
		res.ToolMessages = append(res.ToolMessages, llm.Message{
			Role:       "tool",
			Content:    result,
			ToolCallID: call.ID,
		})
	}

	return res, nil
}

// invoke looks up, validates and executes one call. Names outside the
// current stage's tool set are rejected before the registry lookup so a
// model request can never run a tool the stage did not offer. The
// dispatcher itself performs no state mutation; tool handlers are the
// only code path that touches AdventureState.
func (d *Dispatcher) invoke(ctx context.Context, sessionID types.SessionID, call llm.ToolCall, allowed map[string]bool) (string, []sse.Event, error) {
	if !allowed[call.Function.Name] {
		return "", nil, fmt.Errorf("tool not found: %q", call.Function.Name)
	}
	tool, ok := d.registry.Get(call.Function.Name)
	if !ok {
		return "", nil, fmt.Errorf("tool not found: %q", call.Function.Name)
	}

	in, err := tool.DecodeInput(call.Function.Arguments)
	if err != nil {
		return "", nil, fmt.Errorf("invalid input for %q: %w", call.Function.Name, err)
	}

	out, err := tool.Execute(ctx, sessionID, in)
	if err != nil {
		return "", nil, err
	}
	return out.Result, out.Events, nil
}

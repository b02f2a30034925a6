// Package tools holds the callable capabilities the model may request,
// the registry that scopes them by stage, and the dispatcher that executes
// requested calls in order.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
	"github.com/user/sagecodex/pkg/llm"
	"github.com/user/sagecodex/pkg/sse"
)

// Input is a tool's decoded, validated argument payload.
type Input interface {
	Validate() error
}

// Output is what a successful tool execution produces: a result string fed
// back to the model and the UI-panel events the mutation triggered.
type Output struct {
	Result string
	Events []sse.Event
}

// Tool defines one executable capability. DecodeInput is the single
// validation entry point; Execute may assume well-typed input.
type Tool interface {
	Name() string
	Description() string
	Parameters() json.RawMessage
	DecodeInput(args json.RawMessage) (Input, error)
	Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error)
}

// decodeInput unmarshals args into in strictly, then validates. Tools use
// it to implement DecodeInput.
func decodeInput(args json.RawMessage, in Input) (Input, error) {
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.DisallowUnknownFields()
	if err := dec.Decode(in); err != nil {
		return nil, fmt.Errorf("parse args: %w", err)
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return in, nil
}

// Registry holds registered tools and scopes lookup by stage.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. A duplicate name is a startup invariant violation
// and fails rather than silently overwriting.
func (r *Registry) Register(t Tool) error {
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// ForStage returns the tools legal in stage s, in the order the stage
// mapping lists them.
func (r *Registry) ForStage(s stage.Stage) []Tool {
	names := stage.ToolNamesFor(s)
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			out = append(out, t)
		}
	}
	return out
}

// LLMToolsFor converts the stage's tool set to the provider format.
func (r *Registry) LLMToolsFor(s stage.Stage) []llm.Tool {
	ts := r.ForStage(s)
	out := make([]llm.Tool, 0, len(ts))
	for _, t := range ts {
		out = append(out, llm.Tool{
			Type: "function",
			Function: llm.Function{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return out
}

// ValidateCoverage fails if any tool name the stage mapping references has
// no registration. Called once at startup.
func (r *Registry) ValidateCoverage() error {
	for _, name := range stage.AllToolNames() {
		if _, ok := r.tools[name]; !ok {
			return fmt.Errorf("no tool registered for %q", name)
		}
	}
	return nil
}

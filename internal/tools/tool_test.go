package tools

import (
	"testing"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/store"
)

func TestRegistryRejectsDuplicates(t *testing.T) {
	states := store.NewStateStore(t.TempDir())
	r := NewRegistry()

	if err := r.Register(NewSetVision(states)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(NewSetVision(states)); err == nil {
		t.Error("expected error registering a duplicate tool name")
	}
}

func TestRegistryGet(t *testing.T) {
	states := store.NewStateStore(t.TempDir())
	r := NewRegistry()
	if err := RegisterAll(r, states); err != nil {
		t.Fatal(err)
	}

	if _, ok := r.Get(stage.ToolSetVision); !ok {
		t.Error("expected set_vision to be registered")
	}
	if _, ok := r.Get("summon_dragon"); ok {
		t.Error("expected unknown tool to be absent")
	}
}

func TestForStageScoping(t *testing.T) {
	states := store.NewStateStore(t.TempDir())
	r := NewRegistry()
	if err := RegisterAll(r, states); err != nil {
		t.Fatal(err)
	}

	for _, s := range stage.All() {
		got := r.ForStage(s)
		want := stage.ToolNamesFor(s)
		if len(got) != len(want) {
			t.Fatalf("stage %s: expected %d tools, got %d", s, len(want), len(got))
		}
		for i, tool := range got {
			if tool.Name() != want[i] {
				t.Errorf("stage %s position %d: got %s, expected %s", s, i, tool.Name(), want[i])
			}
		}
	}

	// The provider-format conversion keeps the same names and order.
	llmTools := r.LLMToolsFor(stage.Binding)
	names := stage.ToolNamesFor(stage.Binding)
	if len(llmTools) != len(names) {
		t.Fatalf("expected %d llm tools, got %d", len(names), len(llmTools))
	}
	for i, lt := range llmTools {
		if lt.Function.Name != names[i] {
			t.Errorf("position %d: got %s, expected %s", i, lt.Function.Name, names[i])
		}
	}
}

func TestValidateCoverage(t *testing.T) {
	states := store.NewStateStore(t.TempDir())
	r := NewRegistry()
	if err := r.Register(NewSetVision(states)); err != nil {
		t.Fatal(err)
	}
	if err := r.ValidateCoverage(); err == nil {
		t.Error("expected coverage failure with only one tool registered")
	}

	full := NewRegistry()
	if err := RegisterAll(full, states); err != nil {
		t.Fatal(err)
	}
	if err := full.ValidateCoverage(); err != nil {
		t.Errorf("expected full coverage, got %v", err)
	}
}

func TestDecodeInputRejectsUnknownFields(t *testing.T) {
	states := store.NewStateStore(t.TempDir())
	tool := NewSetVision(states)

	if _, err := tool.DecodeInput([]byte(`{"summary": "a heist", "extra": 1}`)); err == nil {
		t.Error("expected error for unknown field")
	}
	if _, err := tool.DecodeInput([]byte(`{"summary": ""}`)); err == nil {
		t.Error("expected validation error for empty summary")
	}
	if _, err := tool.DecodeInput([]byte(`{"summary": "a heist"}`)); err != nil {
		t.Errorf("expected valid input to decode, got %v", err)
	}
	// Empty args decode as an empty object, then fail validation.
	if _, err := tool.DecodeInput(nil); err == nil {
		t.Error("expected validation error for missing summary")
	}
}

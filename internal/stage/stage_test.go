package stage

import (
	"encoding/json"
	"testing"
)

func TestPipelineOrder(t *testing.T) {
	all := All()
	if len(all) != 6 {
		t.Fatalf("expected 6 stages, got %d", len(all))
	}

	// Walking Next from the first stage must visit every stage in order
	// and stop exactly at the last.
	s := all[0]
	visited := []Stage{s}
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		visited = append(visited, next)
		s = next
	}
	if len(visited) != len(all) {
		t.Fatalf("walk visited %d stages, expected %d", len(visited), len(all))
	}
	for i, s := range visited {
		if s != all[i] {
			t.Errorf("position %d: got %s, expected %s", i, s, all[i])
		}
	}
	if !visited[len(visited)-1].Terminal() {
		t.Error("walk did not end at a terminal stage")
	}
}

func TestNextRejectsTerminalAndInvalid(t *testing.T) {
	if _, ok := Delivering.Next(); ok {
		t.Error("expected no successor for the final stage")
	}
	if _, ok := Stage(42).Next(); ok {
		t.Error("expected no successor for an invalid stage")
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, s := range All() {
		parsed, err := Parse(s.String())
		if err != nil {
			t.Fatalf("parse %q: %v", s.String(), err)
		}
		if parsed != s {
			t.Errorf("parse %q: got %v, expected %v", s.String(), parsed, s)
		}
	}
	if _, err := Parse("summoning"); err == nil {
		t.Error("expected error for unknown stage name")
	}
}

func TestJSONByName(t *testing.T) {
	data, err := json.Marshal(Weaving)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `"weaving"` {
		t.Errorf("expected %q, got %s", `"weaving"`, data)
	}

	var s Stage
	if err := json.Unmarshal([]byte(`"inscribing"`), &s); err != nil {
		t.Fatal(err)
	}
	if s != Inscribing {
		t.Errorf("expected Inscribing, got %v", s)
	}

	if _, err := json.Marshal(Stage(99)); err == nil {
		t.Error("expected error marshaling invalid stage")
	}
}

func TestJSONMapKeysByName(t *testing.T) {
	data, err := json.Marshal(map[Stage]bool{Binding: true})
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"binding":true}` {
		t.Errorf("expected named map key, got %s", data)
	}

	var m map[Stage]bool
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	if !m[Binding] {
		t.Errorf("expected Binding key restored, got %v", m)
	}
}

func TestToolNamesTotal(t *testing.T) {
	// Every stage carries the universal tool plus at least one of its own.
	for _, s := range All() {
		names := ToolNamesFor(s)
		if len(names) < 2 {
			t.Errorf("stage %s: expected universal plus scoped tools, got %v", s, names)
		}
		if names[0] != ToolMarkStageReady {
			t.Errorf("stage %s: expected %s first, got %v", s, ToolMarkStageReady, names)
		}
	}

	// Stage-scoped tools never leak across stages.
	for _, name := range ToolNamesFor(Invoking) {
		if name == ToolFinalizeAdventure {
			t.Error("finalize_adventure must not be available in the first stage")
		}
	}

	if got := len(AllToolNames()); got != 8 {
		t.Errorf("expected 8 distinct tool names, got %d", got)
	}
}

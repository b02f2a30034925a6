package prompts

import (
	"strings"
	"testing"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
)

func TestSystemCoversEveryStage(t *testing.T) {
	for _, s := range stage.All() {
		prompt := System(s, nil)
		if !strings.Contains(prompt, "Current stage: "+s.String()) {
			t.Errorf("stage %s: prompt missing stage instructions", s)
		}
	}
}

func TestSystemDigestIsDeterministic(t *testing.T) {
	st := types.NewAdventureState("s1")
	st.VisionSummary = "a drowned city surfaces"
	st.Config["party_size"] = "4"
	st.Config["levels"] = "3-5"
	st.Config["system"] = "5e"

	first := System(stage.Attuning, st)
	for i := 0; i < 10; i++ {
		if got := System(stage.Attuning, st); got != first {
			t.Fatal("prompt must be stable across calls for the same state")
		}
	}
	if !strings.Contains(first, "Vision: a drowned city surfaces") {
		t.Error("expected vision in digest")
	}
	if !strings.Contains(first, "Config party_size = 4") {
		t.Error("expected config entries in digest")
	}
}

func TestSystemDigestReflectsProgress(t *testing.T) {
	st := types.NewAdventureState("s1")
	st.FrameOptions = []types.FrameOption{{ID: "f1", Title: "The Long Night"}}

	prompt := System(stage.Binding, st)
	if !strings.Contains(prompt, "none selected yet") {
		t.Error("expected pending frame choice in digest")
	}

	st.SelectedFrame = &st.FrameOptions[0]
	prompt = System(stage.Binding, st)
	if !strings.Contains(prompt, "Frame: The Long Night") {
		t.Error("expected selected frame in digest")
	}

	st.Scenes = []types.SceneOutline{{Title: "Arrival", Sections: []types.SceneSection{{Heading: "Read-aloud", Content: "x"}}}}
	prompt = System(stage.Inscribing, st)
	if !strings.Contains(prompt, "Scene 1: Arrival (1 sections written)") {
		t.Error("expected scene progress in digest")
	}
}

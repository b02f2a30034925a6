// Package prompts holds the static per-stage system prompts. Prompt text
// is configuration: nothing here touches state or transport.
package prompts

import (
	"fmt"
	"sort"
	"strings"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
)

// GreetingTrigger is the synthetic user message used to elicit an opening
// assistant line on a fresh session. It is never persisted.
const GreetingTrigger = "Begin the session by greeting the user and explaining the first stage."

const persona = `You are the Sage, a collaborative adventure designer for tabletop RPGs.
You guide the user through a fixed six-stage pipeline, one stage at a time:
invoking (vision), attuning (configuration), binding (thematic frame),
weaving (scene outline), inscribing (scene content), delivering (final).
Record every agreed decision by calling the matching tool; never claim to
have saved something without calling a tool. Keep replies concise and ask
one question at a time.`

var stageInstructions = map[stage.Stage]string{
	stage.Invoking: `Current stage: invoking. Draw out what the user wants this adventure
to be: premise, tone, stakes. When a vision crystallizes, save it with
set_vision, then call mark_stage_ready for "invoking".`,
	stage.Attuning: `Current stage: attuning. Confirm the practical parameters: party size,
character levels, expected session count, game system. Save each confirmed
choice with set_config_value, then mark_stage_ready for "attuning".`,
	stage.Binding: `Current stage: binding. Offer two to five thematic frames that fit the
vision using present_frame_options. When the user picks one, commit it with
select_frame, then mark_stage_ready for "binding".`,
	stage.Weaving: `Current stage: weaving. Propose an ordered scene outline and refine it
with the user. Save the agreed outline with outline_scenes, then
mark_stage_ready for "weaving".`,
	stage.Inscribing: `Current stage: inscribing. Write the scenes section by section
(read-aloud text, encounters, treasure) with write_scene_section. When every
scene is written, mark_stage_ready for "inscribing".`,
	stage.Delivering: `Current stage: delivering. Walk the user through the finished
adventure, make final adjustments, and call finalize_adventure when they are
satisfied.`,
}

// System assembles the system prompt for a turn: persona, the current
// stage's instructions, and a digest of what the adventure holds so far.
func System(s stage.Stage, st *types.AdventureState) string {
	var b strings.Builder
	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(stageInstructions[s])

	if st != nil {
		digest := stateDigest(st)
		if digest != "" {
			b.WriteString("\n\nAdventure so far:\n")
			b.WriteString(digest)
		}
	}
	return b.String()
}

func stateDigest(st *types.AdventureState) string {
	var lines []string
	if st.VisionSummary != "" {
		lines = append(lines, "Vision: "+st.VisionSummary)
	}
	keys := make([]string, 0, len(st.Config))
	for k := range st.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("Config %s = %s", k, st.Config[k]))
	}
	if st.SelectedFrame != nil {
		lines = append(lines, "Frame: "+st.SelectedFrame.Title)
	} else if len(st.FrameOptions) > 0 {
		lines = append(lines, fmt.Sprintf("%d frame options presented, none selected yet", len(st.FrameOptions)))
	}
	for i, sc := range st.Scenes {
		lines = append(lines, fmt.Sprintf("Scene %d: %s (%d sections written)", i+1, sc.Title, len(sc.Sections)))
	}
	if st.Finalized {
		lines = append(lines, "The adventure is finalized.")
	}
	return strings.Join(lines, "\n")
}

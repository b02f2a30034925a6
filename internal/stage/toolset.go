package stage

// Tool names, partitioned into universal (every stage) and stage-scoped.
// The registry in internal/tools checks its registrations against this
// mapping at startup so a stage without its tools is a boot failure.
const (
	ToolMarkStageReady      = "mark_stage_ready"
	ToolSetVision           = "set_vision"
	ToolSetConfigValue      = "set_config_value"
	ToolPresentFrameOptions = "present_frame_options"
	ToolSelectFrame         = "select_frame"
	ToolOutlineScenes       = "outline_scenes"
	ToolWriteSceneSection   = "write_scene_section"
	ToolFinalizeAdventure   = "finalize_adventure"
)

var universalTools = []string{
	ToolMarkStageReady,
}

// ToolNamesFor returns the tool names legal in stage s: the universal set
// plus the stage's own set. The switch is total over the enumeration.
func ToolNamesFor(s Stage) []string {
	var scoped []string
	switch s {
	case Invoking:
		scoped = []string{ToolSetVision}
	case Attuning:
		scoped = []string{ToolSetConfigValue}
	case Binding:
		scoped = []string{ToolPresentFrameOptions, ToolSelectFrame}
	case Weaving:
		scoped = []string{ToolOutlineScenes}
	case Inscribing:
		scoped = []string{ToolWriteSceneSection}
	case Delivering:
		scoped = []string{ToolFinalizeAdventure}
	}
	out := make([]string, 0, len(universalTools)+len(scoped))
	out = append(out, universalTools...)
	out = append(out, scoped...)
	return out
}

// AllToolNames returns every tool name reachable from any stage.
func AllToolNames() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range All() {
		for _, name := range ToolNamesFor(s) {
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/sagecodex/internal/stage"
	"github.com/user/sagecodex/internal/types"
	"github.com/user/sagecodex/pkg/sse"
)

// stateTool carries the state store shared by every adventure tool.
type stateTool struct {
	states types.StateStore
}

func (s *stateTool) load(ctx context.Context, id types.SessionID) (*types.AdventureState, error) {
	st, err := s.states.Get(ctx, id)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return types.NewAdventureState(id), nil
		}
		return nil, err
	}
	if st.Config == nil {
		st.Config = make(map[string]string)
	}
	if st.StageReady == nil {
		st.StageReady = make(map[stage.Stage]bool)
	}
	return st, nil
}

func (s *stateTool) save(ctx context.Context, st *types.AdventureState) error {
	st.UpdatedAt = time.Now()
	return s.states.Put(ctx, st)
}

// MarkStageReady is the universal tool: it records that the named stage's
// content is complete enough to advance. Readiness is advisory for the UI;
// the advance operation itself gates only on active + non-terminal.
type MarkStageReady struct{ stateTool }

func NewMarkStageReady(states types.StateStore) *MarkStageReady {
	return &MarkStageReady{stateTool{states: states}}
}

type markStageReadyInput struct {
	Stage string `json:"stage"`
}

func (in *markStageReadyInput) Validate() error {
	if _, err := stage.Parse(in.Stage); err != nil {
		return err
	}
	return nil
}

func (t *MarkStageReady) Name() string { return stage.ToolMarkStageReady }
func (t *MarkStageReady) Description() string {
	return "Mark the named stage as ready to advance once its content is complete"
}
func (t *MarkStageReady) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"stage": {"type": "string", "description": "Stage name, e.g. \"invoking\"", "enum": ["invoking", "attuning", "binding", "weaving", "inscribing", "delivering"]}
		},
		"required": ["stage"]
	}`)
}
func (t *MarkStageReady) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &markStageReadyInput{})
}
func (t *MarkStageReady) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*markStageReadyInput)
	s, _ := stage.Parse(input.Stage)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.StageReady[s] = true
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Stage %s marked ready.", s),
		Events: []sse.Event{{Type: sse.TypePanelReady, Data: map[string]any{"stage": s.String()}}},
	}, nil
}

// SetVision records the adventure's vision summary during Invoking.
type SetVision struct{ stateTool }

func NewSetVision(states types.StateStore) *SetVision {
	return &SetVision{stateTool{states: states}}
}

type setVisionInput struct {
	Summary string `json:"summary"`
}

func (in *setVisionInput) Validate() error {
	if strings.TrimSpace(in.Summary) == "" {
		return fmt.Errorf("summary is required")
	}
	return nil
}

func (t *SetVision) Name() string { return stage.ToolSetVision }
func (t *SetVision) Description() string {
	return "Record the adventure's vision summary: premise, tone, and what the table wants out of it"
}
func (t *SetVision) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"summary": {"type": "string", "description": "The agreed vision summary"}
		},
		"required": ["summary"]
	}`)
}
func (t *SetVision) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &setVisionInput{})
}
func (t *SetVision) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*setVisionInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.VisionSummary = input.Summary
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: "Vision summary saved.",
		Events: []sse.Event{{Type: sse.TypePanelVision, Data: map[string]any{"summary": input.Summary}}},
	}, nil
}

// SetConfigValue records one confirmed configuration choice during Attuning.
type SetConfigValue struct{ stateTool }

func NewSetConfigValue(states types.StateStore) *SetConfigValue {
	return &SetConfigValue{stateTool{states: states}}
}

type setConfigValueInput struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func (in *setConfigValueInput) Validate() error {
	if strings.TrimSpace(in.Key) == "" {
		return fmt.Errorf("key is required")
	}
	if strings.TrimSpace(in.Value) == "" {
		return fmt.Errorf("value is required")
	}
	return nil
}

func (t *SetConfigValue) Name() string { return stage.ToolSetConfigValue }
func (t *SetConfigValue) Description() string {
	return "Record one confirmed configuration choice, such as party size, level range, or session length"
}
func (t *SetConfigValue) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"key": {"type": "string", "description": "Configuration key, e.g. \"party_size\""},
			"value": {"type": "string", "description": "The confirmed value"}
		},
		"required": ["key", "value"]
	}`)
}
func (t *SetConfigValue) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &setConfigValueInput{})
}
func (t *SetConfigValue) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*setConfigValueInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.Config[input.Key] = input.Value
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Set %s = %s.", input.Key, input.Value),
		Events: []sse.Event{{Type: sse.TypePanelConfig, Data: map[string]any{
			"key":   input.Key,
			"value": input.Value,
		}}},
	}, nil
}

// PresentFrameOptions offers thematic frames for the user to choose from
// during Binding. Presenting replaces any previously offered set.
type PresentFrameOptions struct{ stateTool }

func NewPresentFrameOptions(states types.StateStore) *PresentFrameOptions {
	return &PresentFrameOptions{stateTool{states: states}}
}

type presentFrameOptionsInput struct {
	Options []types.FrameOption `json:"options"`
}

func (in *presentFrameOptionsInput) Validate() error {
	if len(in.Options) == 0 {
		return fmt.Errorf("at least one option is required")
	}
	if len(in.Options) > 5 {
		return fmt.Errorf("at most 5 options may be presented")
	}
	seen := make(map[string]bool)
	for i, opt := range in.Options {
		if strings.TrimSpace(opt.ID) == "" || strings.TrimSpace(opt.Title) == "" {
			return fmt.Errorf("option %d: id and title are required", i)
		}
		if seen[opt.ID] {
			return fmt.Errorf("duplicate option id %q", opt.ID)
		}
		seen[opt.ID] = true
	}
	return nil
}

func (t *PresentFrameOptions) Name() string { return stage.ToolPresentFrameOptions }
func (t *PresentFrameOptions) Description() string {
	return "Offer up to five thematic frames for the adventure; replaces any previously offered set"
}
func (t *PresentFrameOptions) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"options": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"id": {"type": "string"},
						"title": {"type": "string"},
						"description": {"type": "string"}
					},
					"required": ["id", "title"]
				}
			}
		},
		"required": ["options"]
	}`)
}
func (t *PresentFrameOptions) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &presentFrameOptionsInput{})
}
func (t *PresentFrameOptions) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*presentFrameOptionsInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	st.FrameOptions = input.Options
	st.SelectedFrame = nil
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Presented %d frame options.", len(input.Options)),
		Events: []sse.Event{{Type: sse.TypePanelFrames, Data: map[string]any{"options": input.Options}}},
	}, nil
}

// SelectFrame commits one of the previously presented frames.
type SelectFrame struct{ stateTool }

func NewSelectFrame(states types.StateStore) *SelectFrame {
	return &SelectFrame{stateTool{states: states}}
}

type selectFrameInput struct {
	ID string `json:"id"`
}

func (in *selectFrameInput) Validate() error {
	if strings.TrimSpace(in.ID) == "" {
		return fmt.Errorf("id is required")
	}
	return nil
}

func (t *SelectFrame) Name() string { return stage.ToolSelectFrame }
func (t *SelectFrame) Description() string {
	return "Select one of the previously presented thematic frames by id"
}
func (t *SelectFrame) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"id": {"type": "string", "description": "The id of the chosen frame"}
		},
		"required": ["id"]
	}`)
}
func (t *SelectFrame) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &selectFrameInput{})
}
func (t *SelectFrame) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*selectFrameInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var selected *types.FrameOption
	for i := range st.FrameOptions {
		if st.FrameOptions[i].ID == input.ID {
			selected = &st.FrameOptions[i]
			break
		}
	}
	if selected == nil {
		return nil, fmt.Errorf("no presented frame with id %q", input.ID)
	}
	st.SelectedFrame = selected
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Frame %q selected.", selected.Title),
		Events: []sse.Event{{Type: sse.TypePanelFrameSelected, Data: map[string]any{"frame": selected}}},
	}, nil
}

// OutlineScenes replaces the ordered scene outline during Weaving.
type OutlineScenes struct{ stateTool }

func NewOutlineScenes(states types.StateStore) *OutlineScenes {
	return &OutlineScenes{stateTool{states: states}}
}

type outlineScenesInput struct {
	Scenes []struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	} `json:"scenes"`
}

func (in *outlineScenesInput) Validate() error {
	if len(in.Scenes) == 0 {
		return fmt.Errorf("at least one scene is required")
	}
	for i, sc := range in.Scenes {
		if strings.TrimSpace(sc.Title) == "" {
			return fmt.Errorf("scene %d: title is required", i)
		}
	}
	return nil
}

func (t *OutlineScenes) Name() string { return stage.ToolOutlineScenes }
func (t *OutlineScenes) Description() string {
	return "Set the ordered list of scene outlines; replaces the previous outline"
}
func (t *OutlineScenes) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"scenes": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"title": {"type": "string"},
						"summary": {"type": "string"}
					},
					"required": ["title"]
				}
			}
		},
		"required": ["scenes"]
	}`)
}
func (t *OutlineScenes) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &outlineScenesInput{})
}
func (t *OutlineScenes) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*outlineScenesInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	scenes := make([]types.SceneOutline, len(input.Scenes))
	for i, sc := range input.Scenes {
		scenes[i] = types.SceneOutline{Title: sc.Title, Summary: sc.Summary}
		// Carry written sections across a re-outline when the title matches.
		for _, old := range st.Scenes {
			if old.Title == sc.Title {
				scenes[i].Sections = old.Sections
			}
		}
	}
	st.Scenes = scenes
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Outlined %d scenes.", len(scenes)),
		Events: []sse.Event{{Type: sse.TypePanelScenes, Data: map[string]any{"scenes": scenes}}},
	}, nil
}

// WriteSceneSection writes or rewrites one section of a scene during
// Inscribing.
type WriteSceneSection struct{ stateTool }

func NewWriteSceneSection(states types.StateStore) *WriteSceneSection {
	return &WriteSceneSection{stateTool{states: states}}
}

type writeSceneSectionInput struct {
	SceneIndex int    `json:"scene_index"`
	Heading    string `json:"heading"`
	Content    string `json:"content"`
}

func (in *writeSceneSectionInput) Validate() error {
	if in.SceneIndex < 0 {
		return fmt.Errorf("scene_index must be non-negative")
	}
	if strings.TrimSpace(in.Heading) == "" {
		return fmt.Errorf("heading is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return fmt.Errorf("content is required")
	}
	return nil
}

func (t *WriteSceneSection) Name() string { return stage.ToolWriteSceneSection }
func (t *WriteSceneSection) Description() string {
	return "Write or rewrite one section of an outlined scene"
}
func (t *WriteSceneSection) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"scene_index": {"type": "integer", "description": "Zero-based index into the scene outline"},
			"heading": {"type": "string", "description": "Section heading, e.g. \"Read-aloud\""},
			"content": {"type": "string", "description": "The section text"}
		},
		"required": ["scene_index", "heading", "content"]
	}`)
}
func (t *WriteSceneSection) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &writeSceneSectionInput{})
}
func (t *WriteSceneSection) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	input := in.(*writeSceneSectionInput)

	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if input.SceneIndex >= len(st.Scenes) {
		return nil, fmt.Errorf("scene_index %d out of range (have %d scenes)", input.SceneIndex, len(st.Scenes))
	}

	scene := &st.Scenes[input.SceneIndex]
	replaced := false
	for i := range scene.Sections {
		if scene.Sections[i].Heading == input.Heading {
			scene.Sections[i].Content = input.Content
			replaced = true
			break
		}
	}
	if !replaced {
		scene.Sections = append(scene.Sections, types.SceneSection{
			Heading: input.Heading,
			Content: input.Content,
		})
	}
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: fmt.Sprintf("Wrote section %q of scene %q.", input.Heading, scene.Title),
		Events: []sse.Event{{Type: sse.TypePanelSection, Data: map[string]any{
			"sceneIndex": input.SceneIndex,
			"heading":    input.Heading,
			"content":    input.Content,
		}}},
	}, nil
}

// FinalizeAdventure marks the adventure complete during Delivering.
type FinalizeAdventure struct{ stateTool }

func NewFinalizeAdventure(states types.StateStore) *FinalizeAdventure {
	return &FinalizeAdventure{stateTool{states: states}}
}

type finalizeAdventureInput struct{}

func (in *finalizeAdventureInput) Validate() error { return nil }

func (t *FinalizeAdventure) Name() string { return stage.ToolFinalizeAdventure }
func (t *FinalizeAdventure) Description() string {
	return "Mark the adventure as complete and ready for delivery"
}
func (t *FinalizeAdventure) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {}
	}`)
}
func (t *FinalizeAdventure) DecodeInput(args json.RawMessage) (Input, error) {
	return decodeInput(args, &finalizeAdventureInput{})
}
func (t *FinalizeAdventure) Execute(ctx context.Context, sessionID types.SessionID, in Input) (*Output, error) {
	st, err := t.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(st.Scenes) == 0 {
		return nil, fmt.Errorf("cannot finalize an adventure with no scenes")
	}
	st.Finalized = true
	if err := t.save(ctx, st); err != nil {
		return nil, err
	}
	return &Output{
		Result: "Adventure finalized.",
		Events: []sse.Event{{Type: sse.TypePanelFinalized, Data: map[string]any{"finalized": true}}},
	}, nil
}

// RegisterAll registers every adventure tool against the registry and
// verifies the stage mapping is fully covered.
func RegisterAll(r *Registry, states types.StateStore) error {
	all := []Tool{
		NewMarkStageReady(states),
		NewSetVision(states),
		NewSetConfigValue(states),
		NewPresentFrameOptions(states),
		NewSelectFrame(states),
		NewOutlineScenes(states),
		NewWriteSceneSection(states),
		NewFinalizeAdventure(states),
	}
	for _, t := range all {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return r.ValidateCoverage()
}

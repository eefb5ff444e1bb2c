package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/placement"
)

type fakeBoard struct {
	mu         sync.Mutex
	objects    map[string]board.Object
	order      []string
	broadcasts []string
	clock      int64
}

func newFakeBoard(objs ...board.Object) *fakeBoard {
	b := &fakeBoard{objects: make(map[string]board.Object)}
	for _, obj := range objs {
		b.objects[obj.ID] = obj
		b.order = append(b.order, obj.ID)
	}
	return b
}

func (b *fakeBoard) Objects() []board.Object {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]board.Object, 0, len(b.order))
	for _, id := range b.order {
		if obj, ok := b.objects[id]; ok {
			out = append(out, obj)
		}
	}
	return out
}

func (b *fakeBoard) Object(id string) (board.Object, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[id]
	return obj, ok
}

func (b *fakeBoard) Create(_ context.Context, obj board.Object) (board.Object, error) {
	if err := obj.Validate(); err != nil {
		return board.Object{}, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clock++
	obj.UpdatedAt = b.clock
	b.objects[obj.ID] = obj
	b.order = append(b.order, obj.ID)
	return obj, nil
}

func (b *fakeBoard) Update(_ context.Context, patch board.Patch) (board.Object, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	stored, ok := b.objects[patch.ID]
	if !ok {
		return board.Object{}, fmt.Errorf("object %q not found", patch.ID)
	}
	b.clock++
	patch.UpdatedAt = b.clock
	merged := board.Merge(stored, patch)
	b.objects[patch.ID] = merged
	return merged, nil
}

func (b *fakeBoard) Delete(_ context.Context, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.objects[id]; !ok {
		return fmt.Errorf("object %q not found", id)
	}
	delete(b.objects, id)
	return nil
}

func (b *fakeBoard) Broadcast(frameType string, _ any) {
	b.mu.Lock()
	b.broadcasts = append(b.broadcasts, frameType)
	b.mu.Unlock()
}

type fakeStage struct {
	relationships []string
	phase         string
	phaseErr      error
	polls         []string
}

func (s *fakeStage) SetRelationship(a, b, descriptor string) error {
	s.relationships = append(s.relationships, a+"|"+b+"|"+descriptor)
	return nil
}

func (s *fakeStage) AdvancePhase(phase string) (string, error) {
	if s.phaseErr != nil {
		return "", s.phaseErr
	}
	s.phase = phase
	return phase, nil
}

func (s *fakeStage) OpenPoll(question string, options []string, _ time.Duration) (string, error) {
	s.polls = append(s.polls, question)
	return "poll-1", nil
}

type fakeImages struct {
	url string
	err error
}

func (f fakeImages) GenerateImage(context.Context, string) (string, error) {
	return f.url, f.err
}

func newTestEnv(b *fakeBoard) *Env {
	n := 0
	return &Env{
		Board:   b,
		Stage:   &fakeStage{},
		Turn:    placement.NewTurn(placement.DefaultOptions()),
		Author:  "ai:Mabel",
		BatchID: "batch-1",
		NewID: func() string {
			n++
			return fmt.Sprintf("obj-%d", n)
		},
	}
}

func dispatch(t *testing.T, r *Registry, env *Env, name string, input string) Outcome {
	t.Helper()
	return r.Dispatch(context.Background(), env, name, json.RawMessage(input))
}

func errorText(t *testing.T, out Outcome) string {
	t.Helper()
	var payload errorPayload
	if err := json.Unmarshal(out.Output, &payload); err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return payload.Error
}

func TestRegistryListsEveryTool(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	want := []string{
		"create_note", "create_shape", "create_character", "create_connector", "move_object",
		"resize_object", "edit_text", "recolor", "read_board", "delete_object", "generate_image",
		"highlight", "set_relationship", "advance_phase", "animate_sequence", "spotlight",
		"blackout", "play_sound", "set_mood", "poll_audience", "batch",
	}
	specs := r.Specs()
	if len(specs) != len(want) {
		t.Fatalf("specs = %d, want %d", len(specs), len(want))
	}
	for i, name := range want {
		if specs[i].Name != name {
			t.Fatalf("spec %d = %q, want %q", i, specs[i].Name, name)
		}
		if specs[i].InputSchema == nil || specs[i].Description == "" {
			t.Fatalf("spec %q missing schema or description", name)
		}
	}
}

func TestCreateNotesDoNotOverlap(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard()
	env := newTestEnv(b)
	for i := 0; i < 4; i++ {
		out := dispatch(t, r, env, "create_note", fmt.Sprintf(`{"text":"note %d"}`, i))
		if out.Failed() {
			t.Fatalf("create_note failed: %s", out.Output)
		}
	}
	objs := b.Objects()
	if len(objs) != 4 {
		t.Fatalf("objects = %d, want 4", len(objs))
	}
	for i := range objs {
		if objs[i].BatchID != "batch-1" || objs[i].Author != "ai:Mabel" {
			t.Fatalf("object %d not stamped: %+v", i, objs[i])
		}
		for j := i + 1; j < len(objs); j++ {
			if placement.Overlaps(objs[i].Bounds(), objs[j].Bounds(), placement.DefaultGap) {
				t.Fatalf("%s overlaps %s", objs[i].ID, objs[j].ID)
			}
		}
	}
}

func TestDispatchValidatesSchema(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	env := newTestEnv(newFakeBoard())

	out := dispatch(t, r, env, "create_note", `{"color":"red"}`)
	if !out.Failed() {
		t.Fatal("expected missing text to fail validation")
	}
	if !strings.Contains(errorText(t, out), "invalid input") {
		t.Fatalf("error = %q", errorText(t, out))
	}

	out = dispatch(t, r, env, "move_object", `{"id":"a","x":"left","y":0}`)
	if !out.Failed() {
		t.Fatal("expected wrong type to fail validation")
	}
}

func TestDispatchRepairsNonObjectInput(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	env := newTestEnv(newFakeBoard())
	out := dispatch(t, r, env, "read_board", `"please"`)
	if out.Failed() {
		t.Fatalf("read_board failed: %s", out.Output)
	}
	if !out.Repaired || string(out.Input) != `{}` {
		t.Fatalf("input = %s repaired = %v", out.Input, out.Repaired)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	out := dispatch(t, r, newTestEnv(newFakeBoard()), "summon_dragon", `{}`)
	if !errors.Is(out.Err, ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", out.Err)
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	t.Parallel()

	r := &Registry{entries: make(map[string]*entry)}
	register(r, "explode", "always panics", func(context.Context, *Env, ReadBoardInput) (any, error) {
		panic("boom")
	})
	out := dispatch(t, r, newTestEnv(newFakeBoard()), "explode", `{}`)
	if !out.Failed() {
		t.Fatal("expected failure")
	}
	if got := errorText(t, out); got != "tool explode failed unexpectedly" {
		t.Fatalf("error = %q", got)
	}
}

func TestFrameBecomesContainer(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard()
	env := newTestEnv(b)
	out := dispatch(t, r, env, "create_shape", `{"shape":"frame","text":"Kitchen","x":800,"y":400}`)
	if out.Failed() {
		t.Fatalf("create frame: %s", out.Output)
	}
	frame, _ := b.Object("obj-1")
	if frame.PropString(board.PropTitle) != "Kitchen" {
		t.Fatalf("frame title = %q", frame.PropString(board.PropTitle))
	}
	out = dispatch(t, r, env, "create_note", `{"text":"oven"}`)
	if out.Failed() {
		t.Fatalf("create note: %s", out.Output)
	}
	note, _ := b.Object("obj-2")
	if !frame.Bounds().Inset(placement.DefaultInset).Contains(note.Bounds()) {
		t.Fatalf("note %+v not inside frame %+v", note.Bounds(), frame.Bounds())
	}
}

func TestConnectorAndDelete(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard(
		board.Object{ID: "a", Type: board.TypeNote, X: 0, Y: 0, W: 100, H: 100},
		board.Object{ID: "b", Type: board.TypeNote, X: 400, Y: 300, W: 100, H: 100},
	)
	env := newTestEnv(b)
	out := dispatch(t, r, env, "create_connector", `{"from_id":"a","to_id":"b","label":"loves"}`)
	if out.Failed() {
		t.Fatalf("create_connector: %s", out.Output)
	}
	conn, _ := b.Object("obj-1")
	if conn.PropString(board.PropFrom) != "a" || conn.PropString(board.PropTo) != "b" {
		t.Fatalf("connector props = %v", conn.Props)
	}
	if conn.X != 50 || conn.Y != 50 || conn.W != 400 || conn.H != 300 {
		t.Fatalf("connector bounds = %+v", conn.Bounds())
	}

	out = dispatch(t, r, env, "create_connector", `{"from_id":"a","to_id":"zzz"}`)
	if !out.Failed() {
		t.Fatal("expected missing endpoint error")
	}

	out = dispatch(t, r, env, "delete_object", `{"id":"a"}`)
	if out.Failed() {
		t.Fatalf("delete: %s", out.Output)
	}
	if _, ok := b.Object("a"); ok {
		t.Fatal("expected a deleted")
	}
}

func TestMoveAvoidsOverlap(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard(
		board.Object{ID: "a", Type: board.TypeNote, X: 0, Y: 0, W: 200, H: 200},
		board.Object{ID: "b", Type: board.TypeNote, X: 1000, Y: 1000, W: 200, H: 200},
	)
	env := newTestEnv(b)
	out := dispatch(t, r, env, "move_object", `{"id":"b","x":10,"y":10}`)
	if out.Failed() {
		t.Fatalf("move: %s", out.Output)
	}
	moved, _ := b.Object("b")
	a, _ := b.Object("a")
	if placement.Overlaps(moved.Bounds(), a.Bounds(), placement.DefaultGap) {
		t.Fatalf("moved %+v overlaps a", moved.Bounds())
	}

	out = dispatch(t, r, env, "move_object", `{"id":"b","x":1500,"y":900}`)
	if out.Failed() {
		t.Fatalf("move: %s", out.Output)
	}
	moved, _ = b.Object("b")
	if moved.X != 1500 || moved.Y != 900 {
		t.Fatalf("clear move landed at (%v,%v)", moved.X, moved.Y)
	}
}

func TestEditAndRecolorMergeProps(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard(board.Object{ID: "a", Type: board.TypeNote, W: 100, H: 100, Props: map[string]any{board.PropText: "old", board.PropColor: "yellow"}})
	env := newTestEnv(b)
	if out := dispatch(t, r, env, "edit_text", `{"id":"a","text":"new"}`); out.Failed() {
		t.Fatalf("edit: %s", out.Output)
	}
	if out := dispatch(t, r, env, "recolor", `{"id":"a","color":"blue"}`); out.Failed() {
		t.Fatalf("recolor: %s", out.Output)
	}
	obj, _ := b.Object("a")
	if obj.PropString(board.PropText) != "new" || obj.PropString(board.PropColor) != "blue" {
		t.Fatalf("props = %v", obj.Props)
	}
}

func TestStagecraftBroadcasts(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard(board.Object{ID: "a", Type: board.TypeCharacter, W: 100, H: 100})
	env := newTestEnv(b)
	calls := []struct{ tool, input string }{
		{"highlight", `{"id":"a"}`},
		{"spotlight", `{"id":"a","duration_ms":999999}`},
		{"blackout", `{}`},
		{"play_sound", `{"cue":"Drumroll"}`},
		{"set_mood", `{"mood":"eerie"}`},
		{"animate_sequence", `{"steps":[{"target_id":"a","action":"shake"}]}`},
	}
	for _, c := range calls {
		if out := dispatch(t, r, env, c.tool, c.input); out.Failed() {
			t.Fatalf("%s: %s", c.tool, out.Output)
		}
	}
	want := []string{board.FrameEffect, board.FrameSpotlight, board.FrameBlackout, board.FrameSoundCue, board.FrameMood, board.FrameSequence}
	if fmt.Sprint(b.broadcasts) != fmt.Sprint(want) {
		t.Fatalf("broadcasts = %v, want %v", b.broadcasts, want)
	}
	if out := dispatch(t, r, env, "play_sound", `{"cue":"kazoo"}`); !out.Failed() {
		t.Fatal("expected unknown cue to fail")
	}
}

func TestStageHooks(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	env := newTestEnv(newFakeBoard())
	stage := env.Stage.(*fakeStage)

	if out := dispatch(t, r, env, "set_relationship", `{"a":"Ana","b":"Bo","descriptor":"rivals"}`); out.Failed() {
		t.Fatalf("set_relationship: %s", out.Output)
	}
	if out := dispatch(t, r, env, "advance_phase", `{"phase":"peak"}`); out.Failed() {
		t.Fatalf("advance_phase: %s", out.Output)
	}
	if out := dispatch(t, r, env, "poll_audience", `{"question":"Who?","options":["a","b"]}`); out.Failed() {
		t.Fatalf("poll_audience: %s", out.Output)
	}
	if len(stage.relationships) != 1 || stage.phase != "peak" || len(stage.polls) != 1 {
		t.Fatalf("stage = %+v", stage)
	}

	stage.phaseErr = errors.New("lifecycle phase cannot move backwards")
	out := dispatch(t, r, env, "advance_phase", `{"phase":"build"}`)
	if got := errorText(t, out); got != "lifecycle phase cannot move backwards" {
		t.Fatalf("error = %q", got)
	}
}

func TestGenerateImage(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard()
	env := newTestEnv(b)
	if out := dispatch(t, r, env, "generate_image", `{"prompt":"a moon"}`); !out.Failed() {
		t.Fatal("expected failure without an image generator")
	}
	env.Images = fakeImages{url: "https://img.example/moon.png"}
	if out := dispatch(t, r, env, "generate_image", `{"prompt":"a moon"}`); out.Failed() {
		t.Fatalf("generate_image: %s", out.Output)
	}
	objs := b.Objects()
	if len(objs) != 1 || objs[0].Type != board.TypeImage || objs[0].PropString(board.PropURL) == "" {
		t.Fatalf("objects = %+v", objs)
	}
}

func TestBatchRecordsFailuresAndContinues(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard()
	env := newTestEnv(b)
	out := dispatch(t, r, env, "batch", `{"ops":[
		{"tool":"create_note","input":{"text":"one"}},
		{"tool":"delete_object","input":{"id":"missing"}},
		{"tool":"batch","input":{"ops":[]}},
		{"tool":"create_note","input":{"text":"two"}}
	]}`)
	if out.Failed() {
		t.Fatalf("batch: %s", out.Output)
	}
	var result BatchResult
	if err := json.Unmarshal(out.Output, &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.Completed != 2 || result.Failed != 2 {
		t.Fatalf("completed = %d failed = %d", result.Completed, result.Failed)
	}
	if result.Results[1].OK || !result.Results[3].OK {
		t.Fatalf("results = %+v", result.Results)
	}
	if len(b.Objects()) != 2 {
		t.Fatalf("objects = %d, want 2", len(b.Objects()))
	}
}

func TestBatchRejectsTooManyOps(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	ops := make([]BatchOpInput, MaxBatchOps+1)
	for i := range ops {
		ops[i] = BatchOpInput{Tool: "read_board"}
	}
	if _, err := r.Batch(context.Background(), newTestEnv(newFakeBoard()), ops); err == nil {
		t.Fatal("expected too many ops error")
	}
}

func TestLabelsAndBackgroundsDoNotDisplaceLaterObjects(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	b := newFakeBoard()
	env := newTestEnv(b)
	for _, input := range []string{
		`{"shape":"label","text":"Harbor","x":100,"y":100}`,
		`{"shape":"rect","background":true,"x":100,"y":100,"w":900,"h":600}`,
	} {
		if out := dispatch(t, r, env, "create_shape", input); out.Failed() {
			t.Fatalf("create_shape %s: %s", input, out.Output)
		}
	}
	if got := len(env.Turn.Reserved()); got != 0 {
		t.Fatalf("reserved = %d, want 0", got)
	}

	if out := dispatch(t, r, env, "create_note", `{"text":"Lighthouse","x":100,"y":100}`); out.Failed() {
		t.Fatalf("create_note: %s", out.Output)
	}
	note, ok := b.Object("obj-3")
	if !ok {
		t.Fatal("note not created")
	}
	if note.X != 100 || note.Y != 100 {
		t.Fatalf("note at (%v,%v), want (100,100)", note.X, note.Y)
	}
}

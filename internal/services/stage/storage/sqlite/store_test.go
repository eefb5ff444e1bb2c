package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := Open(""); err == nil {
		t.Fatal("expected empty path error")
	}
}

func TestLoadStateMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.LoadState(context.Background(), "scene-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestSaveLoadStateRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	now := time.Date(2026, time.March, 3, 20, 15, 0, 0, time.UTC)
	input := orchestration.Durable{
		HumanTurns:    7,
		Explicit:      orchestration.LifecyclePeak,
		TerminalFired: false,
		SpendTokens:   12345,
		ActivePersona: 1,
		GameMode:      orchestration.ModeYesAnd,
		Title:         "The Lighthouse",
		Relationships: []orchestration.Relationship{
			{A: "Mara", B: "Keeper", Descriptor: "estranged siblings", UpdatedAt: now},
			{A: "Keeper", B: "Gull", Descriptor: "rivals", UpdatedAt: now.Add(time.Minute)},
		},
		Transcript: []orchestration.Message{
			{Role: orchestration.RoleUser, Author: "ana", Text: "A storm rolls in", At: now},
			{
				Role:    orchestration.RoleAssistant,
				Persona: "Spark",
				Text:    "[Spark] The lamp flickers.",
				ToolCalls: []orchestration.ToolCall{
					{ID: "call-1", Name: "create_note", Input: json.RawMessage(`{"text":"storm"}`)},
				},
				At: now.Add(time.Second),
			},
		},
	}
	if err := store.SaveState(context.Background(), "scene-1", input); err != nil {
		t.Fatalf("save state: %v", err)
	}

	got, err := store.LoadState(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if got.HumanTurns != 7 {
		t.Fatalf("human turns = %d, want 7", got.HumanTurns)
	}
	if got.Explicit != orchestration.LifecyclePeak {
		t.Fatalf("explicit = %v, want %v", got.Explicit, orchestration.LifecyclePeak)
	}
	if got.SpendTokens != 12345 {
		t.Fatalf("spend = %d, want 12345", got.SpendTokens)
	}
	if got.GameMode != orchestration.ModeYesAnd {
		t.Fatalf("game mode = %q, want %q", got.GameMode, orchestration.ModeYesAnd)
	}
	if got.Title != "The Lighthouse" {
		t.Fatalf("title = %q, want %q", got.Title, "The Lighthouse")
	}
	if len(got.Relationships) != 2 {
		t.Fatalf("relationships = %d, want 2", len(got.Relationships))
	}
	if got.Relationships[0].Descriptor != "estranged siblings" {
		t.Fatalf("first relationship = %q, want oldest first", got.Relationships[0].Descriptor)
	}
	if !got.Relationships[1].UpdatedAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("relationship updated_at = %v, want %v", got.Relationships[1].UpdatedAt, now.Add(time.Minute))
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("transcript = %d, want 2", len(got.Transcript))
	}
	if got.Transcript[0].ToolCalls != nil {
		t.Fatalf("user tool calls = %v, want nil", got.Transcript[0].ToolCalls)
	}
	calls := got.Transcript[1].ToolCalls
	if len(calls) != 1 || calls[0].Name != "create_note" {
		t.Fatalf("tool calls = %+v, want one create_note", calls)
	}
	if string(calls[0].Input) != `{"text":"storm"}` {
		t.Fatalf("tool input = %s", calls[0].Input)
	}
}

func TestSaveStateReplacesCollections(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 3, 20, 15, 0, 0, time.UTC)
	first := orchestration.Durable{
		GameMode: orchestration.ModeFreeform,
		Relationships: []orchestration.Relationship{
			{A: "a", B: "b", Descriptor: "friends", UpdatedAt: now},
		},
		Transcript: []orchestration.Message{
			{Role: orchestration.RoleUser, Text: "one", At: now},
			{Role: orchestration.RoleUser, Text: "two", At: now},
		},
	}
	if err := store.SaveState(ctx, "scene-1", first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	second := orchestration.Durable{
		GameMode: orchestration.ModeFreeform,
		Transcript: []orchestration.Message{
			{Role: orchestration.RoleUser, Text: "two", At: now},
		},
	}
	if err := store.SaveState(ctx, "scene-1", second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	got, err := store.LoadState(ctx, "scene-1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if len(got.Relationships) != 0 {
		t.Fatalf("relationships = %d, want 0", len(got.Relationships))
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "two" {
		t.Fatalf("transcript = %+v, want only %q", got.Transcript, "two")
	}
}

func TestDeleteStateRemovesScene(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	if err := store.SaveState(ctx, "scene-1", orchestration.Durable{GameMode: orchestration.ModeFreeform}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if err := store.DeleteState(ctx, "scene-1"); err != nil {
		t.Fatalf("delete state: %v", err)
	}
	if _, err := store.LoadState(ctx, "scene-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestPutArchiveRejectsDuplicate(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	archive := storage.Archive{
		SceneID:    "scene-1",
		Objects:    []board.Object{{ID: "n1", Type: board.TypeNote, W: 160, H: 120}},
		HumanTurns: 20,
	}
	if err := store.PutArchive(ctx, archive); err != nil {
		t.Fatalf("put archive: %v", err)
	}
	if err := store.PutArchive(ctx, archive); !errors.Is(err, storage.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestArchiveTitleAndCritique(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	ctx := context.Background()
	now := time.Date(2026, time.March, 3, 21, 0, 0, 0, time.UTC)
	if err := store.PutArchive(ctx, storage.Archive{
		SceneID:   "scene-1",
		CreatedAt: now,
		Transcript: []orchestration.Message{
			{Role: orchestration.RoleUser, Text: "curtain", At: now},
		},
	}); err != nil {
		t.Fatalf("put archive: %v", err)
	}
	if err := store.SetArchiveTitle(ctx, "scene-1", "Storm Warning"); err != nil {
		t.Fatalf("set title: %v", err)
	}
	if err := store.SetArchiveCritique(ctx, "scene-1", "Strong callbacks."); err != nil {
		t.Fatalf("set critique: %v", err)
	}

	got, err := store.GetArchive(ctx, "scene-1")
	if err != nil {
		t.Fatalf("get archive: %v", err)
	}
	if got.Title != "Storm Warning" {
		t.Fatalf("title = %q, want %q", got.Title, "Storm Warning")
	}
	if got.Critique != "Strong callbacks." {
		t.Fatalf("critique = %q, want %q", got.Critique, "Strong callbacks.")
	}
	if !got.CreatedAt.Equal(now) {
		t.Fatalf("created_at = %v, want %v", got.CreatedAt, now)
	}
	if len(got.Transcript) != 1 || got.Transcript[0].Text != "curtain" {
		t.Fatalf("transcript = %+v", got.Transcript)
	}
	if len(got.Objects) != 0 {
		t.Fatalf("objects = %d, want 0", len(got.Objects))
	}
}

func TestSetArchiveTitleMissing(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	err := store.SetArchiveTitle(context.Background(), "missing", "x")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenReappliesMigrationsIdempotently(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "stage.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open first: %v", err)
	}
	if err := first.SaveState(context.Background(), "scene-1", orchestration.Durable{HumanTurns: 3, GameMode: orchestration.ModeFreeform}); err != nil {
		t.Fatalf("save state: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close first: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("open second: %v", err)
	}
	t.Cleanup(func() { _ = second.Close() })
	got, err := second.LoadState(context.Background(), "scene-1")
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if got.HumanTurns != 3 {
		t.Fatalf("human turns = %d, want 3", got.HumanTurns)
	}
}

func openTempStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "stage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

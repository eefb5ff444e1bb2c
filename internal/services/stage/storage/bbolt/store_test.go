package bbolt

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "stage.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestApplyMutationRoundTrip(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	note := board.Object{ID: "n1", Type: board.TypeNote, X: 10, Y: 20, W: 200, H: 200, UpdatedAt: 5,
		Props: map[string]any{board.PropText: "hello"}}

	err := store.ApplyMutation(ctx, "scene-1", storage.Mutation{
		Put:    []board.Object{note},
		Replay: []storage.ReplayRecord{{Seq: 1, Event: board.ReplayEvent{Kind: board.EventCreate, Timestamp: 5, Object: &note}}},
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	loaded, err := store.LoadBoard(ctx, "scene-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Objects) != 1 {
		t.Fatalf("objects = %d, want 1", len(loaded.Objects))
	}
	if got := loaded.Objects[0]; got.ID != "n1" || got.X != 10 || got.PropString(board.PropText) != "hello" || got.UpdatedAt != 5 {
		t.Fatalf("object = %+v", got)
	}
	if len(loaded.Replay) != 1 || loaded.Replay[0].Seq != 1 || loaded.Replay[0].Event.TargetID() != "n1" {
		t.Fatalf("replay = %+v", loaded.Replay)
	}
}

func TestApplyMutationDeleteAndTrim(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	var replay []storage.ReplayRecord
	for i := uint64(1); i <= 5; i++ {
		replay = append(replay, storage.ReplayRecord{Seq: i, Event: board.ReplayEvent{Kind: board.EventDelete, ObjectID: "x"}})
	}
	if err := store.ApplyMutation(ctx, "s", storage.Mutation{
		Put:    []board.Object{{ID: "a", Type: board.TypeRect, W: 1, H: 1}, {ID: "b", Type: board.TypeRect, W: 1, H: 1}},
		Replay: replay,
	}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := store.ApplyMutation(ctx, "s", storage.Mutation{Delete: []string{"a"}, TrimBelow: 4}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	loaded, err := store.LoadBoard(ctx, "s")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Objects) != 1 || loaded.Objects[0].ID != "b" {
		t.Fatalf("objects = %+v", loaded.Objects)
	}
	if len(loaded.Replay) != 2 || loaded.Replay[0].Seq != 4 || loaded.Replay[1].Seq != 5 {
		t.Fatalf("replay = %+v", loaded.Replay)
	}
}

func TestLoadUnknownSceneIsEmpty(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	loaded, err := store.LoadBoard(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded.Objects) != 0 || len(loaded.Replay) != 0 {
		t.Fatalf("loaded = %+v", loaded)
	}
}

func TestDeleteBoardAndSceneIDs(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	ctx := context.Background()
	for _, id := range []string{"s1", "s2"} {
		if err := store.ApplyMutation(ctx, id, storage.Mutation{Put: []board.Object{{ID: "o", Type: board.TypeNote, W: 1, H: 1}}}); err != nil {
			t.Fatalf("apply %s: %v", id, err)
		}
	}
	if err := store.DeleteBoard(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteBoard(ctx, "s1"); err != nil {
		t.Fatalf("delete twice: %v", err)
	}
	ids, err := store.SceneIDs(ctx)
	if err != nil {
		t.Fatalf("scene ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("ids = %v", ids)
	}
}

func TestStoreRejectsBadInput(t *testing.T) {
	t.Parallel()

	store := openTestStore(t)
	if err := store.ApplyMutation(context.Background(), "", storage.Mutation{Delete: []string{"a"}}); err == nil {
		t.Fatal("expected empty scene id error")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.LoadBoard(ctx, "s"); err == nil {
		t.Fatal("expected canceled context error")
	}
	if _, err := Open(" "); err == nil {
		t.Fatal("expected empty path error")
	}
}

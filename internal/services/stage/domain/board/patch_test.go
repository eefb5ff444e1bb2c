package board

import "testing"

func TestMergeKeepsConcurrentPropWrites(t *testing.T) {
	t.Parallel()

	stored := Object{ID: "a", Type: TypeNote, X: 1, Y: 2, W: 100, H: 100, UpdatedAt: 10,
		Props: map[string]any{PropText: "hello", PropColor: "yellow"}}

	colorOnly := Patch{ID: "a", Props: map[string]any{PropColor: "blue"}, UpdatedAt: 11}
	textOnly := Patch{ID: "a", Props: map[string]any{PropText: "bye"}, UpdatedAt: 12}

	got := Merge(Merge(stored, colorOnly), textOnly)
	if got.PropString(PropColor) != "blue" || got.PropString(PropText) != "bye" {
		t.Fatalf("props = %v, want color=blue text=bye", got.Props)
	}
	if got.X != 1 || got.W != 100 {
		t.Fatalf("geometry changed: %+v", got)
	}
	if got.UpdatedAt != 12 {
		t.Fatalf("updatedAt = %d, want 12", got.UpdatedAt)
	}
	if stored.PropString(PropColor) != "yellow" {
		t.Fatal("merge mutated stored object")
	}
}

func TestMergeNilPropDeletesKey(t *testing.T) {
	t.Parallel()

	stored := Object{ID: "a", Type: TypeNote, W: 1, H: 1, Props: map[string]any{PropText: "x", PropColor: "red"}}
	got := Merge(stored, Patch{ID: "a", Props: map[string]any{PropColor: nil}})
	if _, ok := got.Props[PropColor]; ok {
		t.Fatal("expected color removed")
	}
	if got.PropString(PropText) != "x" {
		t.Fatal("expected text kept")
	}
}

func TestMergeReplacesGeometryAndType(t *testing.T) {
	t.Parallel()

	kind := TypeCircle
	got := Merge(Object{ID: "a", Type: TypeRect, X: 1, Y: 1, W: 5, H: 5}, Patch{ID: "a", Type: &kind, X: Float(40), W: Float(60)})
	if got.Type != TypeCircle || got.X != 40 || got.W != 60 || got.Y != 1 || got.H != 5 {
		t.Fatalf("merged = %+v", got)
	}
}

func TestPatchClassification(t *testing.T) {
	t.Parallel()

	if !(Patch{ID: "a", X: Float(1)}).GeometryOnly() {
		t.Fatal("position patch should be geometry only")
	}
	if (Patch{ID: "a", X: Float(1), Props: map[string]any{PropText: "t"}}).GeometryOnly() {
		t.Fatal("prop patch is not geometry only")
	}
	if !(Patch{ID: "a"}).Empty() {
		t.Fatal("expected empty patch")
	}
	if err := (Patch{ID: "a", W: Float(0)}).Validate(); err == nil {
		t.Fatal("expected zero width rejected")
	}
}

package board

import "testing"

func TestBuildPresenceDeduplicatesByIdentity(t *testing.T) {
	t.Parallel()

	conns := []Connection{
		{ID: "c1", Identity: "ana", Name: "Ana", Role: RoleSpectator},
		{ID: "c2", Identity: "ana", Name: "Ana", Role: RolePlayer, Editing: "obj-1"},
		{ID: "c3", Identity: "bo", Name: "Bo", Role: RolePlayer},
	}
	ai := &PresenceEntry{Identity: "ai", Name: "Performers", AI: true}

	got := BuildPresence(conns, ai)
	if len(got) != 3 {
		t.Fatalf("presence len = %d, want 3", len(got))
	}
	if got[0].Identity != "ana" || got[0].Role != RolePlayer || got[0].Editing != "obj-1" {
		t.Fatalf("ana entry = %+v", got[0])
	}
	if !got[2].AI {
		t.Fatal("expected ai entry last")
	}
}

package board

import "sort"

// Role is a connection's participation level.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RolePlayer || r == RoleSpectator
}

// Connection is the ephemeral metadata for one live session.
type Connection struct {
	ID       string `json:"connectionId"`
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Editing  string `json:"editing,omitempty"`
}

// PresenceEntry is one visible participant.
type PresenceEntry struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
	Editing  string `json:"editing,omitempty"`
	AI       bool   `json:"ai,omitempty"`
}

// BuildPresence folds connections into one entry per identity. A player
// connection wins over a spectator one for the same identity. The ai entry,
// when non-nil, is appended last.
func BuildPresence(conns []Connection, ai *PresenceEntry) []PresenceEntry {
	byIdentity := make(map[string]PresenceEntry, len(conns))
	for _, c := range conns {
		entry, ok := byIdentity[c.Identity]
		if !ok {
			byIdentity[c.Identity] = PresenceEntry{Identity: c.Identity, Name: c.Name, Role: c.Role, Editing: c.Editing}
			continue
		}
		if c.Role == RolePlayer {
			entry.Role = RolePlayer
		}
		if entry.Editing == "" {
			entry.Editing = c.Editing
		}
		byIdentity[c.Identity] = entry
	}
	out := make([]PresenceEntry, 0, len(byIdentity)+1)
	for _, entry := range byIdentity {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	if ai != nil {
		out = append(out, *ai)
	}
	return out
}

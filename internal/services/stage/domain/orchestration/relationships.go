package orchestration

import (
	"sort"
	"strings"
	"time"
)

// Relationship is one fact about how two entities relate.
type Relationship struct {
	A          string    `json:"a"`
	B          string    `json:"b"`
	Descriptor string    `json:"descriptor"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func pairKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a + "\x00" + b
}

// SetRelationship upserts the fact for the unordered pair (a, b). When the
// set is full the least recently updated fact is evicted.
func (s *State) SetRelationship(a, b, descriptor string, now time.Time) {
	key := pairKey(a, b)
	for i, rel := range s.Relationships {
		if pairKey(rel.A, rel.B) == key {
			s.Relationships[i].A = a
			s.Relationships[i].B = b
			s.Relationships[i].Descriptor = descriptor
			s.Relationships[i].UpdatedAt = now
			return
		}
	}
	s.Relationships = append(s.Relationships, Relationship{A: a, B: b, Descriptor: descriptor, UpdatedAt: now})
	if len(s.Relationships) <= s.policy.RelationshipCap {
		return
	}
	oldest := 0
	for i, rel := range s.Relationships {
		if rel.UpdatedAt.Before(s.Relationships[oldest].UpdatedAt) {
			oldest = i
		}
	}
	s.Relationships = append(s.Relationships[:oldest], s.Relationships[oldest+1:]...)
}

// RelationshipFacts returns the facts newest first.
func (s *State) RelationshipFacts() []Relationship {
	out := append([]Relationship(nil), s.Relationships...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

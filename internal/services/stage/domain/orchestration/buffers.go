package orchestration

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
)

var (
	ErrPollOpen    = errors.New("a poll is already open")
	ErrNoPoll      = errors.New("no open poll")
	ErrInvalidVote = errors.New("invalid vote")
)

// CanvasEdit is a significant human mutation waiting to be scored.
type CanvasEdit struct {
	Kind        board.EventKind
	Type        board.ObjectType
	ObjectID    string
	Author      string
	Text        string
	TextChanged bool
}

// Weight is how interesting one edit is to the performers.
func (e CanvasEdit) Weight() float64 {
	switch e.Kind {
	case board.EventClear:
		return 3.0
	case board.EventDelete:
		return 1.0
	case board.EventUpdate:
		if e.TextChanged {
			return 1.0
		}
		return 0.25
	case board.EventCreate:
		switch e.Type {
		case board.TypeCharacter:
			return 2.0
		case board.TypeFrame, board.TypeImage:
			return 1.5
		case board.TypeLabel:
			return 0.75
		case board.TypeConnector:
			return 0.5
		default:
			return 1.0
		}
	default:
		return 0
	}
}

// Describe renders the edit for a prompt.
func (e CanvasEdit) Describe() string {
	who := e.Author
	if who == "" {
		who = "someone"
	}
	text := ""
	if e.Text != "" {
		text = fmt.Sprintf(" %q", e.Text)
	}
	switch e.Kind {
	case board.EventCreate:
		return fmt.Sprintf("%s added a %s%s", who, e.Type, text)
	case board.EventDelete:
		return fmt.Sprintf("%s removed a %s", who, e.Type)
	case board.EventClear:
		return fmt.Sprintf("%s cleared the board", who)
	default:
		if e.TextChanged {
			return fmt.Sprintf("%s rewrote a %s to%s", who, e.Type, text)
		}
		return fmt.Sprintf("%s moved a %s", who, e.Type)
	}
}

// BufferCanvasEdit queues an edit for the next scoring pass.
func (s *State) BufferCanvasEdit(e CanvasEdit) {
	s.canvasEdits = append(s.canvasEdits, e)
}

// TakeCanvasEdits drains the buffer and returns its total interest score.
func (s *State) TakeCanvasEdits() (float64, []CanvasEdit) {
	edits := s.canvasEdits
	s.canvasEdits = nil
	score := 0.0
	for _, e := range edits {
		score += e.Weight()
	}
	return score, edits
}

// CanvasReactionAllowed reports whether a scored canvas reaction may run:
// the score clears the threshold, the cooldown has passed, and no human
// chatted recently.
func (s *State) CanvasReactionAllowed(score float64, now time.Time) bool {
	if score < s.policy.CanvasThreshold {
		return false
	}
	if !s.lastCanvasReaction.IsZero() && now.Sub(s.lastCanvasReaction) < s.policy.CanvasCooldown {
		return false
	}
	if !s.lastHumanChat.IsZero() && now.Sub(s.lastHumanChat) < s.policy.RecentChatWindow {
		return false
	}
	return true
}

// MarkCanvasReaction starts the canvas reaction cooldown.
func (s *State) MarkCanvasReaction(now time.Time) { s.lastCanvasReaction = now }

// AddReaction counts one audience reaction and returns the pending total.
func (s *State) AddReaction(emoji string) int {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return s.reactionTotal()
	}
	s.reactions[emoji]++
	return s.reactionTotal()
}

func (s *State) reactionTotal() int {
	total := 0
	for _, n := range s.reactions {
		total += n
	}
	return total
}

// TakeReactions drains pending reactions. ok is false when the wave is too
// small to react to.
func (s *State) TakeReactions() (summary string, ok bool) {
	total := s.reactionTotal()
	counts := s.reactions
	s.reactions = make(map[string]int)
	if total < s.policy.WaveMinReactions {
		return "", false
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s x%d", k, counts[k]))
	}
	return strings.Join(parts, ", "), true
}

// LowLatencyAllowed reports whether a sound or wave reaction may run.
func (s *State) LowLatencyAllowed(now time.Time) bool {
	return s.lastLowLatency.IsZero() || now.Sub(s.lastLowLatency) >= s.policy.LowLatencyCooldown
}

// MarkLowLatency starts the low-latency reaction cooldown.
func (s *State) MarkLowLatency(now time.Time) { s.lastLowLatency = now }

// Poll is an audience vote opened by a performer.
type Poll struct {
	ID       string
	Question string
	Options  []string
	ClosesAt time.Time
	votes    map[string]int
}

// Tally counts votes per option.
func (p Poll) Tally() []int {
	out := make([]int, len(p.Options))
	for _, option := range p.votes {
		out[option]++
	}
	return out
}

// Summary renders the result for injection into the next generation.
func (p Poll) Summary() string {
	tally := p.Tally()
	parts := make([]string, 0, len(p.Options))
	for i, option := range p.Options {
		parts = append(parts, fmt.Sprintf("%q: %d", option, tally[i]))
	}
	return fmt.Sprintf("The audience poll %q closed. Results: %s.", p.Question, strings.Join(parts, ", "))
}

// OpenPoll starts a poll. Only one poll may be open at a time.
func (s *State) OpenPoll(id, question string, options []string, closesAt time.Time) (Poll, error) {
	if s.poll != nil {
		return Poll{}, ErrPollOpen
	}
	if strings.TrimSpace(question) == "" || len(options) < 2 {
		return Poll{}, fmt.Errorf("poll needs a question and at least two options")
	}
	s.poll = &Poll{
		ID:       id,
		Question: question,
		Options:  append([]string(nil), options...),
		ClosesAt: closesAt,
		votes:    make(map[string]int),
	}
	return *s.poll, nil
}

// ActivePoll returns the open poll.
func (s *State) ActivePoll() (Poll, bool) {
	if s.poll == nil {
		return Poll{}, false
	}
	return *s.poll, true
}

// Vote records or replaces voter's choice.
func (s *State) Vote(pollID, voter string, option int) error {
	if s.poll == nil || s.poll.ID != pollID {
		return ErrNoPoll
	}
	if voter == "" || option < 0 || option >= len(s.poll.Options) {
		return ErrInvalidVote
	}
	s.poll.votes[voter] = option
	return nil
}

// ClosePoll ends the poll and injects its result once.
func (s *State) ClosePoll(pollID string) (Poll, bool) {
	if s.poll == nil || s.poll.ID != pollID {
		return Poll{}, false
	}
	closed := *s.poll
	s.poll = nil
	s.Inject(closed.Summary())
	return closed, true
}

package orchestration

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ToolCall records one tool invocation made while producing a message.
type ToolCall struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Input  json.RawMessage `json:"input"`
	Output json.RawMessage `json:"output,omitempty"`
}

// Message is one turn in the scene transcript.
type Message struct {
	Role      Role       `json:"role"`
	Author    string     `json:"author,omitempty"`
	Persona   string     `json:"persona,omitempty"`
	Text      string     `json:"text,omitempty"`
	ToolCalls []ToolCall `json:"toolCalls,omitempty"`
	At        time.Time  `json:"at"`
}

func (m Message) clone() Message {
	m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	return m
}

// AppendTranscript adds msg and trims the transcript to its cap, oldest
// first.
func (s *State) AppendTranscript(msg Message) {
	s.Transcript = append(s.Transcript, msg)
	if over := len(s.Transcript) - s.policy.TranscriptCap; over > 0 {
		s.Transcript = append([]Message(nil), s.Transcript[over:]...)
	}
}

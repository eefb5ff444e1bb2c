package board

import "encoding/json"

// Frame is the envelope for every message exchanged with a connection.
type Frame struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Inbound frame types.
const (
	FrameJoin         = "join"
	FrameCursor       = "cursor"
	FrameObjectCreate = "obj:create"
	FrameObjectUpdate = "obj:update"
	FrameObjectDelete = "obj:delete"
	FrameTextFocus    = "text:focus"
	FrameTextBlur     = "text:blur"
	FrameBatchUndo    = "batch:undo"
	FrameReaction     = "reaction"
	FrameHeckle       = "heckle"
	FrameChat         = "chat"
	FrameSoundCue     = "sound"
	FrameMode         = "mode"
	FrameVote         = "vote"
	FrameBoardClear   = "board:clear"
)

// Outbound frame types. Object, cursor, chat, and sound frames reuse the
// inbound names.
const (
	FrameInit         = "init"
	FramePresence     = "presence"
	FrameBoardDeleted = "board:deleted"
	FrameEffect       = "effect"
	FrameSequence     = "sequence"
	FrameSpotlight    = "spotlight"
	FrameBlackout     = "blackout"
	FrameMood         = "mood"
	FramePoll         = "poll"
	FrameError        = "error"
	FrameAck          = "ack"
	FrameBoardCleared = "board:cleared"
)

type JoinPayload struct {
	SceneID string `json:"sceneId"`
	Name    string `json:"name,omitempty"`
	Role    Role   `json:"role,omitempty"`
}

type InitPayload struct {
	SceneID  string          `json:"sceneId"`
	Objects  []Object        `json:"objects"`
	Presence []PresenceEntry `json:"presence"`
	Mode     string          `json:"mode,omitempty"`
}

type SceneRefPayload struct {
	SceneID string `json:"sceneId"`
}

type PresencePayload struct {
	Presence []PresenceEntry `json:"presence"`
}

type CursorPayload struct {
	Identity string  `json:"identity,omitempty"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type ObjectPayload struct {
	Object Object `json:"object"`
}

type PatchPayload struct {
	Patch Patch `json:"patch"`
}

type DeletePayload struct {
	ID string `json:"id"`
}

type FocusPayload struct {
	ID string `json:"id"`
}

type UndoPayload struct {
	BatchID string `json:"batchId"`
}

type ReactionPayload struct {
	Emoji    string `json:"emoji"`
	Identity string `json:"identity,omitempty"`
}

type HecklePayload struct {
	Text string `json:"text"`
}

type ChatPayload struct {
	Text string `json:"text"`
}

// ChatMessagePayload is a chat line broadcast to every connection.
type ChatMessagePayload struct {
	Role    string `json:"role"`
	Author  string `json:"author"`
	Persona string `json:"persona,omitempty"`
	Text    string `json:"text"`
	At      int64  `json:"at"`
}

type SoundPayload struct {
	Cue    string `json:"cue"`
	Author string `json:"author,omitempty"`
}

type ModePayload struct {
	Mode string `json:"mode"`
}

type VotePayload struct {
	PollID string `json:"pollId"`
	Option int    `json:"option"`
}

type EffectPayload struct {
	Kind     string `json:"kind"`
	TargetID string `json:"targetId,omitempty"`
	Color    string `json:"color,omitempty"`
	Duration int    `json:"durationMs,omitempty"`
}

type SequenceStep struct {
	TargetID string  `json:"targetId"`
	Action   string  `json:"action"`
	DX       float64 `json:"dx,omitempty"`
	DY       float64 `json:"dy,omitempty"`
	DelayMS  int     `json:"delayMs,omitempty"`
}

type SequencePayload struct {
	Steps []SequenceStep `json:"steps"`
}

type SpotlightPayload struct {
	TargetID string `json:"targetId"`
	Duration int    `json:"durationMs,omitempty"`
}

type BlackoutPayload struct {
	Duration int `json:"durationMs,omitempty"`
}

type MoodPayload struct {
	Mood      string  `json:"mood"`
	Intensity float64 `json:"intensity,omitempty"`
}

type PollPayload struct {
	PollID   string   `json:"pollId"`
	Question string   `json:"question"`
	Options  []string `json:"options"`
	ClosesAt int64    `json:"closesAt"`
	Tally    []int    `json:"tally,omitempty"`
	Closed   bool     `json:"closed,omitempty"`
}

type ErrorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type AckPayload struct {
	Status string `json:"status"`
	ID     string `json:"id,omitempty"`
}

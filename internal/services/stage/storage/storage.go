// Package storage defines the persistence ports for the stage service.
//
// Scene objects and the replay log live in an embedded key-value store;
// orchestration state, transcripts, and archives live in SQLite.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a create collided with an existing record.
	ErrAlreadyExists = errors.New("record already exists")
)

// ReplayRecord is one replay event with its position in the log.
type ReplayRecord struct {
	Seq   uint64            `json:"seq"`
	Event board.ReplayEvent `json:"event"`
}

// SceneBoard is everything persisted for one scene's canvas.
type SceneBoard struct {
	Objects []board.Object
	Replay  []ReplayRecord
}

// Mutation is applied atomically: objects are upserted, ids deleted,
// replay records upserted by Seq, and replay records below TrimBelow
// removed.
type Mutation struct {
	Put       []board.Object
	Delete    []string
	Replay    []ReplayRecord
	TrimBelow uint64
}

// Empty reports whether m would change nothing.
func (m Mutation) Empty() bool {
	return len(m.Put) == 0 && len(m.Delete) == 0 && len(m.Replay) == 0 && m.TrimBelow == 0
}

// BoardStore persists scene canvases.
type BoardStore interface {
	LoadBoard(ctx context.Context, sceneID string) (SceneBoard, error)
	ApplyMutation(ctx context.Context, sceneID string, m Mutation) error
	DeleteBoard(ctx context.Context, sceneID string) error
	SceneIDs(ctx context.Context) ([]string, error)
}

// Archive is the record written when a scene reaches its curtain.
type Archive struct {
	SceneID    string
	Title      string
	Critique   string
	Objects    []board.Object
	Transcript []orchestration.Message
	HumanTurns int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// StateStore persists orchestration state and archives.
type StateStore interface {
	LoadState(ctx context.Context, sceneID string) (orchestration.Durable, error)
	SaveState(ctx context.Context, sceneID string, state orchestration.Durable) error
	DeleteState(ctx context.Context, sceneID string) error

	PutArchive(ctx context.Context, archive Archive) error
	GetArchive(ctx context.Context, sceneID string) (Archive, error)
	SetArchiveTitle(ctx context.Context, sceneID, title string) error
	SetArchiveCritique(ctx context.Context, sceneID, critique string) error
}

// Package sqlite persists scene orchestration state and archives in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/yesand/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/domain/orchestration"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
	"github.com/louisbranch/yesand/internal/services/stage/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

// Store provides SQLite-backed orchestration persistence.
type Store struct {
	sqlDB *sql.DB
}

var _ storage.StateStore = (*Store)(nil)

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

// Open opens a SQLite-backed state store and applies migrations.
func Open(path string) (*Store, error) {
	ctx := context.Background()
	sqlDB, err := sqlitemigrate.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// LoadState returns the durable orchestration fields for one scene.
func (s *Store) LoadState(ctx context.Context, sceneID string) (orchestration.Durable, error) {
	if err := s.ready(ctx); err != nil {
		return orchestration.Durable{}, err
	}
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return orchestration.Durable{}, fmt.Errorf("scene id is required")
	}

	var (
		out           orchestration.Durable
		explicit      int
		terminalFired int
		gameMode      string
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT human_turns, explicit_lifecycle, terminal_fired, spend_tokens, active_persona, game_mode, title
FROM scene_state
WHERE scene_id = ?`,
		sceneID,
	).Scan(&out.HumanTurns, &explicit, &terminalFired, &out.SpendTokens, &out.ActivePersona, &gameMode, &out.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return orchestration.Durable{}, storage.ErrNotFound
	}
	if err != nil {
		return orchestration.Durable{}, fmt.Errorf("get scene state: %w", err)
	}
	out.Explicit = orchestration.Lifecycle(explicit)
	out.TerminalFired = terminalFired != 0
	out.GameMode = orchestration.GameMode(gameMode)

	relationships, err := s.loadRelationships(ctx, sceneID)
	if err != nil {
		return orchestration.Durable{}, err
	}
	out.Relationships = relationships

	transcript, err := s.loadTranscript(ctx, sceneID)
	if err != nil {
		return orchestration.Durable{}, err
	}
	out.Transcript = transcript
	return out, nil
}

func (s *Store) loadRelationships(ctx context.Context, sceneID string) ([]orchestration.Relationship, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT entity_a, entity_b, descriptor, updated_at
FROM scene_relationships
WHERE scene_id = ?
ORDER BY updated_at ASC, pair_key ASC`,
		sceneID,
	)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var out []orchestration.Relationship
	for rows.Next() {
		var (
			rel       orchestration.Relationship
			updatedAt int64
		)
		if err := rows.Scan(&rel.A, &rel.B, &rel.Descriptor, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rel.UpdatedAt = fromMillis(updatedAt)
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate relationships: %w", err)
	}
	return out, nil
}

func (s *Store) loadTranscript(ctx context.Context, sceneID string) ([]orchestration.Message, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `
SELECT role, author, persona, body, tool_calls_json, created_at
FROM scene_transcript
WHERE scene_id = ?
ORDER BY position ASC`,
		sceneID,
	)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	defer rows.Close()

	var out []orchestration.Message
	for rows.Next() {
		var (
			msg       orchestration.Message
			role      string
			toolCalls string
			createdAt int64
		)
		if err := rows.Scan(&role, &msg.Author, &msg.Persona, &msg.Text, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript message: %w", err)
		}
		msg.Role = orchestration.Role(role)
		msg.At = fromMillis(createdAt)
		if err := json.Unmarshal([]byte(toolCalls), &msg.ToolCalls); err != nil {
			return nil, fmt.Errorf("decode tool calls: %w", err)
		}
		if len(msg.ToolCalls) == 0 {
			msg.ToolCalls = nil
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	return out, nil
}

// SaveState replaces the persisted state for one scene in a single
// transaction.
func (s *Store) SaveState(ctx context.Context, sceneID string, state orchestration.Durable) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	sceneID = strings.TrimSpace(sceneID)
	if sceneID == "" {
		return fmt.Errorf("scene id is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save state: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO scene_state (
    scene_id, human_turns, explicit_lifecycle, terminal_fired, spend_tokens, active_persona, game_mode, title, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(scene_id) DO UPDATE SET
    human_turns = excluded.human_turns,
    explicit_lifecycle = excluded.explicit_lifecycle,
    terminal_fired = excluded.terminal_fired,
    spend_tokens = excluded.spend_tokens,
    active_persona = excluded.active_persona,
    game_mode = excluded.game_mode,
    title = excluded.title,
    updated_at = excluded.updated_at`,
		sceneID,
		state.HumanTurns,
		int(state.Explicit),
		boolToInt(state.TerminalFired),
		state.SpendTokens,
		state.ActivePersona,
		string(state.GameMode),
		state.Title,
		toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert scene state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scene_relationships WHERE scene_id = ?`, sceneID); err != nil {
		return fmt.Errorf("clear relationships: %w", err)
	}
	for _, rel := range state.Relationships {
		if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO scene_relationships (scene_id, pair_key, entity_a, entity_b, descriptor, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
			sceneID, relationshipKey(rel.A, rel.B), rel.A, rel.B, rel.Descriptor, toMillis(rel.UpdatedAt),
		); err != nil {
			return fmt.Errorf("insert relationship: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM scene_transcript WHERE scene_id = ?`, sceneID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}
	for i, msg := range state.Transcript {
		toolCalls := msg.ToolCalls
		if toolCalls == nil {
			toolCalls = []orchestration.ToolCall{}
		}
		encoded, err := json.Marshal(toolCalls)
		if err != nil {
			return fmt.Errorf("encode tool calls: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO scene_transcript (scene_id, position, role, author, persona, body, tool_calls_json, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sceneID, i, string(msg.Role), msg.Author, msg.Persona, msg.Text, string(encoded), toMillis(msg.At),
		); err != nil {
			return fmt.Errorf("insert transcript message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save state: %w", err)
	}
	return nil
}

// DeleteState removes the scene's orchestration state. Archives are kept.
func (s *Store) DeleteState(ctx context.Context, sceneID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if _, err := s.sqlDB.ExecContext(ctx, `DELETE FROM scene_state WHERE scene_id = ?`, strings.TrimSpace(sceneID)); err != nil {
		return fmt.Errorf("delete scene state: %w", err)
	}
	return nil
}

// PutArchive writes the archive for a finished scene. A scene is archived
// once; a second write returns storage.ErrAlreadyExists.
func (s *Store) PutArchive(ctx context.Context, archive storage.Archive) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	archive.SceneID = strings.TrimSpace(archive.SceneID)
	if archive.SceneID == "" {
		return fmt.Errorf("scene id is required")
	}
	objects := archive.Objects
	if objects == nil {
		objects = []board.Object{}
	}
	objectsJSON, err := json.Marshal(objects)
	if err != nil {
		return fmt.Errorf("encode archive objects: %w", err)
	}
	transcript := archive.Transcript
	if transcript == nil {
		transcript = []orchestration.Message{}
	}
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("encode archive transcript: %w", err)
	}

	createdAt := archive.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := archive.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	_, err = s.sqlDB.ExecContext(ctx, `
INSERT INTO scene_archives (
    scene_id, title, critique, objects_json, transcript_json, human_turns, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		archive.SceneID,
		archive.Title,
		archive.Critique,
		string(objectsJSON),
		string(transcriptJSON),
		archive.HumanTurns,
		toMillis(createdAt),
		toMillis(updatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("insert archive: %w", err)
	}
	return nil
}

// GetArchive returns the archive for a scene.
func (s *Store) GetArchive(ctx context.Context, sceneID string) (storage.Archive, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Archive{}, err
	}
	var (
		out            storage.Archive
		objectsJSON    string
		transcriptJSON string
		createdAt      int64
		updatedAt      int64
	)
	err := s.sqlDB.QueryRowContext(ctx, `
SELECT scene_id, title, critique, objects_json, transcript_json, human_turns, created_at, updated_at
FROM scene_archives
WHERE scene_id = ?`,
		strings.TrimSpace(sceneID),
	).Scan(&out.SceneID, &out.Title, &out.Critique, &objectsJSON, &transcriptJSON, &out.HumanTurns, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Archive{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Archive{}, fmt.Errorf("get archive: %w", err)
	}
	if err := json.Unmarshal([]byte(objectsJSON), &out.Objects); err != nil {
		return storage.Archive{}, fmt.Errorf("decode archive objects: %w", err)
	}
	if err := json.Unmarshal([]byte(transcriptJSON), &out.Transcript); err != nil {
		return storage.Archive{}, fmt.Errorf("decode archive transcript: %w", err)
	}
	out.CreatedAt = fromMillis(createdAt)
	out.UpdatedAt = fromMillis(updatedAt)
	return out, nil
}

// SetArchiveTitle records the generated title of an archived scene.
func (s *Store) SetArchiveTitle(ctx context.Context, sceneID, title string) error {
	return s.setArchiveColumn(ctx, "title", sceneID, title)
}

// SetArchiveCritique records the generated critique of an archived scene.
func (s *Store) SetArchiveCritique(ctx context.Context, sceneID, critique string) error {
	return s.setArchiveColumn(ctx, "critique", sceneID, critique)
}

func (s *Store) setArchiveColumn(ctx context.Context, column, sceneID, value string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var query string
	switch column {
	case "title":
		query = `UPDATE scene_archives SET title = ?, updated_at = ? WHERE scene_id = ?`
	case "critique":
		query = `UPDATE scene_archives SET critique = ?, updated_at = ? WHERE scene_id = ?`
	default:
		return fmt.Errorf("unknown archive column %q", column)
	}
	result, err := s.sqlDB.ExecContext(ctx, query, value, toMillis(time.Now()), strings.TrimSpace(sceneID))
	if err != nil {
		return fmt.Errorf("update archive %s: %w", column, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update archive %s: %w", column, err)
	}
	if affected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func relationshipKey(a, b string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

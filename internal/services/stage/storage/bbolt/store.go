// Package bbolt stores scene canvases in BoltDB: one nested bucket per
// scene holding an objects bucket keyed by object id and a replay bucket
// keyed by big-endian sequence number.
package bbolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/storage"
	"go.etcd.io/bbolt"
)

const (
	scenesBucket  = "scenes"
	objectsBucket = "objects"
	replayBucket  = "replay"
)

// Store provides a BoltDB-backed board store.
type Store struct {
	db *bbolt.DB
}

var _ storage.BoardStore = (*Store)(nil)

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadBoard returns every object and replay record for a scene. A scene
// that was never written loads as empty.
func (s *Store) LoadBoard(ctx context.Context, sceneID string) (storage.SceneBoard, error) {
	if err := s.check(ctx, sceneID); err != nil {
		return storage.SceneBoard{}, err
	}

	var out storage.SceneBoard
	err := s.db.View(func(tx *bbolt.Tx) error {
		scene := tx.Bucket([]byte(scenesBucket)).Bucket([]byte(sceneID))
		if scene == nil {
			return nil
		}
		if objects := scene.Bucket([]byte(objectsBucket)); objects != nil {
			if err := objects.ForEach(func(_, v []byte) error {
				var obj board.Object
				if err := json.Unmarshal(v, &obj); err != nil {
					return fmt.Errorf("unmarshal object: %w", err)
				}
				out.Objects = append(out.Objects, obj)
				return nil
			}); err != nil {
				return err
			}
		}
		if replay := scene.Bucket([]byte(replayBucket)); replay != nil {
			if err := replay.ForEach(func(k, v []byte) error {
				var ev board.ReplayEvent
				if err := json.Unmarshal(v, &ev); err != nil {
					return fmt.Errorf("unmarshal replay event: %w", err)
				}
				out.Replay = append(out.Replay, storage.ReplayRecord{Seq: binary.BigEndian.Uint64(k), Event: ev})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return storage.SceneBoard{}, err
	}
	return out, nil
}

// ApplyMutation writes one mutation in a single transaction.
func (s *Store) ApplyMutation(ctx context.Context, sceneID string, m storage.Mutation) error {
	if err := s.check(ctx, sceneID); err != nil {
		return err
	}
	if m.Empty() {
		return nil
	}

	puts := make(map[string][]byte, len(m.Put))
	for _, obj := range m.Put {
		if strings.TrimSpace(obj.ID) == "" {
			return fmt.Errorf("object id is required")
		}
		payload, err := json.Marshal(obj)
		if err != nil {
			return fmt.Errorf("marshal object: %w", err)
		}
		puts[obj.ID] = payload
	}
	replays := make([][2][]byte, 0, len(m.Replay))
	for _, rec := range m.Replay {
		payload, err := json.Marshal(rec.Event)
		if err != nil {
			return fmt.Errorf("marshal replay event: %w", err)
		}
		replays = append(replays, [2][]byte{seqKey(rec.Seq), payload})
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		objects, replay, err := sceneBuckets(tx, sceneID)
		if err != nil {
			return err
		}
		for id, payload := range puts {
			if err := objects.Put([]byte(id), payload); err != nil {
				return fmt.Errorf("put object: %w", err)
			}
		}
		for _, id := range m.Delete {
			if err := objects.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete object: %w", err)
			}
		}
		for _, kv := range replays {
			if err := replay.Put(kv[0], kv[1]); err != nil {
				return fmt.Errorf("put replay event: %w", err)
			}
		}
		if m.TrimBelow > 0 {
			limit := seqKey(m.TrimBelow)
			c := replay.Cursor()
			for k, _ := c.First(); k != nil && string(k) < string(limit); k, _ = c.First() {
				if err := c.Delete(); err != nil {
					return fmt.Errorf("trim replay: %w", err)
				}
			}
		}
		return nil
	})
}

// DeleteBoard removes a scene and everything under it.
func (s *Store) DeleteBoard(ctx context.Context, sceneID string) error {
	if err := s.check(ctx, sceneID); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		scenes := tx.Bucket([]byte(scenesBucket))
		if scenes.Bucket([]byte(sceneID)) == nil {
			return nil
		}
		return scenes.DeleteBucket([]byte(sceneID))
	})
}

// SceneIDs lists every stored scene.
func (s *Store) SceneIDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(scenesBucket)).ForEach(func(k, v []byte) error {
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func (s *Store) check(ctx context.Context, sceneID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(sceneID) == "" {
		return fmt.Errorf("scene id is required")
	}
	return nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(scenesBucket))
		if err != nil {
			return fmt.Errorf("create scenes bucket: %w", err)
		}
		return nil
	})
}

func sceneBuckets(tx *bbolt.Tx, sceneID string) (*bbolt.Bucket, *bbolt.Bucket, error) {
	scene, err := tx.Bucket([]byte(scenesBucket)).CreateBucketIfNotExists([]byte(sceneID))
	if err != nil {
		return nil, nil, fmt.Errorf("create scene bucket: %w", err)
	}
	objects, err := scene.CreateBucketIfNotExists([]byte(objectsBucket))
	if err != nil {
		return nil, nil, fmt.Errorf("create objects bucket: %w", err)
	}
	replay, err := scene.CreateBucketIfNotExists([]byte(replayBucket))
	if err != nil {
		return nil, nil, fmt.Errorf("create replay bucket: %w", err)
	}
	return objects, replay, nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

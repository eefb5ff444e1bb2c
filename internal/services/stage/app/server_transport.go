package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"golang.org/x/net/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/platform/id"
	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"github.com/louisbranch/yesand/internal/services/stage/scene"
)

const (
	maxDecodeErrorsPerConn = 3
	maxFramePayloadBytes   = 16 * 1024
	maxFramesPerSecond     = 40
	frameBurst             = 60
)

type sessionClaimsContextKey struct{}

// newHandler builds the stage routes. mcpHandler is mounted at /mcp when
// non-nil.
func newHandler(hub *Hub, verifier *SessionVerifier, mcpHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, hub)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if verifier.Required() {
			claims, err := verifier.Verify(sessionTokenFromRequest(r))
			if err != nil {
				log.Printf("stage: websocket unauthorized remote=%s err=%v", r.RemoteAddr, err)
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
			r = r.WithContext(context.WithValue(r.Context(), sessionClaimsContextKey{}, claims))
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("GET /scenes/{id}/replay", func(w http.ResponseWriter, r *http.Request) {
		events, err := hub.Replay(r.Context(), r.PathValue("id"))
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		if events == nil {
			events = []board.ReplayEvent{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sceneId": r.PathValue("id"), "events": events})
	})
	mux.HandleFunc("GET /scenes/{id}/snapshot", func(w http.ResponseWriter, r *http.Request) {
		objects, err := hub.Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeHTTPError(w, err)
			return
		}
		if objects == nil {
			objects = []board.Object{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"sceneId": r.PathValue("id"), "objects": objects})
	})
	mux.HandleFunc("DELETE /scenes/{id}", func(w http.ResponseWriter, r *http.Request) {
		if verifier.Required() {
			claims, err := verifier.Verify(sessionTokenFromRequest(r))
			if err != nil || claims.Role != board.RolePlayer {
				http.Error(w, "authentication required", http.StatusUnauthorized)
				return
			}
		}
		if err := hub.DeleteScene(r.Context(), r.PathValue("id")); err != nil {
			writeHTTPError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if mcpHandler != nil {
		mux.Handle("/mcp", mcpHandler)
	}
	return mux
}

// wsSession is the per-connection state of the read loop.
type wsSession struct {
	connID   string
	identity string
	name     string
	role     board.Role
	claims   *SessionClaims
	peer     *wsPeer
	rt       *runtime
}

func handleWSConn(conn *websocket.Conn, hub *Hub) {
	defer func() {
		_ = conn.Close()
	}()

	session := &wsSession{
		connID: id.Prefixed("conn"),
		peer:   newWSPeer(conn),
	}
	if request := conn.Request(); request != nil {
		if claims, ok := request.Context().Value(sessionClaimsContextKey{}).(SessionClaims); ok {
			session.claims = &claims
		}
	}
	defer func() {
		if session.rt == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeouts.Storage)
		defer cancel()
		if _, err := session.rt.scene.Disconnect(ctx, session.connID); err != nil && !errors.Is(err, scene.ErrStopped) {
			log.Printf("stage: disconnect failed scene=%q conn=%q err=%v", session.rt.scene.ID(), session.connID, err)
		}
	}()

	decoder := json.NewDecoder(conn)
	limiter := rate.NewLimiter(rate.Limit(maxFramesPerSecond), frameBurst)
	decodeErrors := 0

	for {
		var frame board.Frame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || isClosedConn(err) {
				return
			}
			decodeErrors++
			_ = writeWSError(session.peer, "", apperrors.New(apperrors.CodeInvalidFrame, "invalid frame payload"))
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			// The decoder cannot resync after a syntax error.
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(session.peer, frame.RequestID, apperrors.New(apperrors.CodeInvalidFrame, "payload too large"))
			continue
		}
		if !limiter.Allow() {
			_ = writeWSError(session.peer, frame.RequestID, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
			return
		}

		ctx := context.Background()
		if request := conn.Request(); request != nil {
			ctx = request.Context()
		}
		if err := dispatchFrame(ctx, hub, session, frame); err != nil {
			if errors.Is(err, scene.ErrStopped) {
				return
			}
			_ = writeWSError(session.peer, frame.RequestID, err)
		}
	}
}

func isClosedConn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "use of closed network connection")
}

// spectatorFrames are the only frames a spectator may send after joining.
var spectatorFrames = map[string]bool{
	board.FrameReaction: true,
	board.FrameHeckle:   true,
	board.FrameVote:     true,
}

func dispatchFrame(ctx context.Context, hub *Hub, session *wsSession, frame board.Frame) error {
	if frame.Type == board.FrameJoin {
		return handleJoinFrame(ctx, hub, session, frame)
	}
	if session.rt == nil {
		return apperrors.New(apperrors.CodeInvalidFrame, "join a scene first")
	}
	if session.role != board.RolePlayer && !spectatorFrames[frame.Type] {
		return apperrors.New(apperrors.CodeForbidden, "spectators cannot "+frame.Type)
	}

	sc := session.rt.scene
	orch := session.rt.orch
	switch frame.Type {
	case board.FrameCursor:
		var payload board.CursorPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		return sc.MoveCursor(session.connID, payload.X, payload.Y)

	case board.FrameObjectCreate:
		var payload board.ObjectPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		res, err := sc.Mutate(ctx, scene.Op{Kind: scene.OpCreate, Origin: session.connID, Author: session.identity, Object: payload.Object})
		if err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, res.Object.ID)

	case board.FrameObjectUpdate:
		var payload board.PatchPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		// Client edits carry their own timestamp so concurrent edits
		// resolve last-writer-wins.
		if payload.Patch.UpdatedAt <= 0 {
			return apperrors.New(apperrors.CodeMissingField, "updatedAt is required")
		}
		res, err := sc.Mutate(ctx, scene.Op{Kind: scene.OpUpdate, Origin: session.connID, Author: session.identity, Patch: payload.Patch})
		if err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, res.Object.ID)

	case board.FrameObjectDelete:
		var payload board.DeletePayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		if _, err := sc.Mutate(ctx, scene.Op{Kind: scene.OpDelete, Origin: session.connID, Author: session.identity, ObjectID: payload.ID}); err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, payload.ID)

	case board.FrameTextFocus:
		var payload board.FocusPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		return sc.SetEditing(ctx, session.connID, payload.ID)

	case board.FrameTextBlur:
		return sc.SetEditing(ctx, session.connID, "")

	case board.FrameBatchUndo:
		var payload board.UndoPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		if _, err := sc.UndoBatch(ctx, payload.BatchID, session.connID); err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, payload.BatchID)

	case board.FrameBoardClear:
		if _, err := sc.Mutate(ctx, scene.Op{Kind: scene.OpClear, Origin: session.connID, Author: session.identity}); err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, "")

	case board.FrameChat:
		var payload board.ChatPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		return orch.HandleHumanMessage(ctx, session.name, payload.Text)

	case board.FrameSoundCue:
		var payload board.SoundPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		if strings.TrimSpace(payload.Cue) == "" {
			return apperrors.New(apperrors.CodeMissingField, "sound cue is required")
		}
		if err := sc.Broadcast(board.FrameSoundCue, board.SoundPayload{Cue: payload.Cue, Author: session.name}); err != nil {
			return err
		}
		return orch.NotifySound(session.name, payload.Cue)

	case board.FrameMode:
		var payload board.ModePayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		return orch.SetGameMode(ctx, payload.Mode)

	case board.FrameReaction:
		var payload board.ReactionPayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		if strings.TrimSpace(payload.Emoji) == "" {
			return apperrors.New(apperrors.CodeMissingField, "emoji is required")
		}
		if err := sc.Broadcast(board.FrameReaction, board.ReactionPayload{Emoji: payload.Emoji, Identity: session.identity}); err != nil {
			return err
		}
		return orch.NotifyReaction(payload.Emoji)

	case board.FrameHeckle:
		var payload board.HecklePayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		if err := orch.NotifyHeckle(session.name, payload.Text); err != nil {
			return err
		}
		return writeAck(session.peer, frame.RequestID, "")

	case board.FrameVote:
		var payload board.VotePayload
		if err := decodePayload(frame, &payload); err != nil {
			return err
		}
		return orch.NotifyVote(ctx, session.identity, payload.PollID, payload.Option)

	default:
		return apperrors.New(apperrors.CodeInvalidFrame, "unsupported frame type")
	}
}

func handleJoinFrame(ctx context.Context, hub *Hub, session *wsSession, frame board.Frame) error {
	if session.rt != nil {
		return apperrors.New(apperrors.CodeInvalidFrame, "already joined")
	}
	var payload board.JoinPayload
	if err := decodePayload(frame, &payload); err != nil {
		return err
	}
	sceneID := strings.TrimSpace(payload.SceneID)

	identity := "guest-" + session.connID
	name := strings.TrimSpace(payload.Name)
	role := payload.Role
	if !role.Valid() {
		role = board.RolePlayer
	}
	if claims := session.claims; claims != nil {
		if claims.SceneID != "" && claims.SceneID != sceneID {
			return apperrors.New(apperrors.CodeForbidden, "session token is for another scene")
		}
		identity = claims.Subject
		if claims.Name != "" {
			name = claims.Name
		}
		// A token can demote itself to spectator but never promote.
		if claims.Role == board.RoleSpectator {
			role = board.RoleSpectator
		}
	}
	if name == "" {
		name = identity
	}

	rt, err := hub.acquire(ctx, sceneID)
	if err != nil {
		return err
	}
	session.identity = identity
	session.name = name
	session.role = role
	err = rt.scene.Connect(ctx, board.Connection{
		ID:       session.connID,
		Identity: identity,
		Name:     name,
		Role:     role,
	}, session.peer)
	if err != nil {
		return err
	}
	session.rt = rt
	log.Printf("stage: joined scene=%q conn=%q role=%q", sceneID, session.connID, role)
	return nil
}

func decodePayload(frame board.Frame, v any) error {
	if len(frame.Payload) == 0 {
		return apperrors.New(apperrors.CodeMissingField, "payload is required")
	}
	if err := json.Unmarshal(frame.Payload, v); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidFrame, "invalid "+frame.Type+" payload", err)
	}
	return nil
}

func writeAck(peer *wsPeer, requestID, objectID string) error {
	return peer.Send(board.Frame{
		Type:      board.FrameAck,
		RequestID: requestID,
		Payload:   mustJSON(board.AckPayload{Status: "ok", ID: objectID}),
	})
}

func writeWSError(peer *wsPeer, requestID string, err error) error {
	code := apperrors.CodeOf(err)
	message := "internal error"
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	return peer.Send(board.Frame{
		Type:      board.FrameError,
		RequestID: requestID,
		Payload: mustJSON(board.ErrorPayload{
			Code:      string(code),
			Message:   message,
			Retryable: code.Retryable(),
		}),
	})
}

func writeHTTPError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	status := gwruntime.HTTPStatusFromCode(code.GRPCCode())
	message := http.StatusText(status)
	var domainErr *apperrors.Error
	if errors.As(err, &domainErr) && code != apperrors.CodeUnknown {
		message = domainErr.Message
	}
	if status >= http.StatusInternalServerError {
		log.Printf("stage: request failed code=%s err=%v", code, err)
	}
	writeJSON(w, status, board.ErrorPayload{Code: string(code), Message: message, Retryable: code.Retryable()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return data
}

package app

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/louisbranch/yesand/internal/platform/timeouts"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
	"golang.org/x/net/websocket"
)

var errPeerClosed = errors.New("peer closed")

// wsPeer serialises frame writes to one websocket connection.
type wsPeer struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	encoder *json.Encoder
	closed  bool
}

func newWSPeer(conn *websocket.Conn) *wsPeer {
	return &wsPeer{conn: conn, encoder: json.NewEncoder(conn)}
}

// Send writes frame, giving up after the write timeout.
func (p *wsPeer) Send(frame board.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errPeerClosed
	}
	_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.WebsocketWrite))
	return p.encoder.Encode(frame)
}

// Close ends the connection. The read loop sees the error and leaves.
func (p *wsPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.conn.Close()
}

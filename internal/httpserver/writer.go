package httpserver

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/pipeline"
	"github.com/Sushantm15/30-Days-of-AI-Voice-Agents/internal/wire"
)

const writeDeadline = 10 * time.Second

// frameWriter serializes pipeline events onto the client WebSocket. The
// sequencer is the only caller during a run, but the reader goroutine also
// writes error frames, hence the lock.
type frameWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newFrameWriter(conn *websocket.Conn) *frameWriter {
	return &frameWriter{conn: conn}
}

func (w *frameWriter) WriteEvent(ev pipeline.Event) error {
	data, err := wire.Marshal(ev)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

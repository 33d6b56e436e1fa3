package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pongDeadline   = 60 * time.Second
	maxInboundSize = 512
)

// WebSocketSink writes events as text frames and keep-alives as pings.
type WebSocketSink struct {
	conn *websocket.Conn
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

func (s *WebSocketSink) Open() error { return nil }

func (s *WebSocketSink) WriteEvent(data []byte) error {
	s.armWriteDeadline()
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write websocket message: %w", err)
	}
	return nil
}

func (s *WebSocketSink) WriteKeepAlive() error {
	s.armWriteDeadline()
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		return fmt.Errorf("write websocket ping: %w", err)
	}
	return nil
}

// Close sends a close frame carrying the reason, then drops the connection.
func (s *WebSocketSink) Close(reason string) error {
	code := websocket.CloseNormalClosure
	if reason == ReasonShutdown {
		code = websocket.CloseGoingAway
	}
	s.armWriteDeadline()
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close websocket: %w", err)
	}
	return nil
}

// WatchPeer reads (and discards) client frames so pongs and close frames are
// processed. It calls cancel when the peer goes away or stops answering pings.
func (s *WebSocketSink) WatchPeer(cancel context.CancelFunc) {
	defer cancel()

	s.conn.SetReadLimit(maxInboundSize)
	s.armReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.armReadDeadline()
		return nil
	})

	for {
		if _, _, err := s.conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *WebSocketSink) armWriteDeadline() {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
}

func (s *WebSocketSink) armReadDeadline() {
	_ = s.conn.SetReadDeadline(time.Now().Add(pongDeadline))
}
